// Package judge implements the narrow slice of the host judge the importer
// talks to: problem persistence, media storage and configured limits.
package judge

import "time"

// Import statuses of a ProblemSourceImport row.
const (
	StatusProcessing = "P"
	StatusCompleted  = "C"
	StatusFailed     = "F"
)

// Profile is a judge user profile.
type Profile struct {
	ID        int64
	Username  string
	CanImport bool
}

// ProblemSource is a persistent import target: one Polygon problem mapped
// to one judge problem code.
type ProblemSource struct {
	ID               int64
	PolygonID        int
	AuthorID         int64
	ProblemCode      string
	ProblemID        *int64
	MainSubmissionID *int64
	CreatedAt        time.Time
}

// ProblemSourceImport is one import attempt of a ProblemSource.
type ProblemSourceImport struct {
	ID              int64
	ProblemSourceID int64
	AuthorID        int64
	Status          string
	Log             string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Problem is the slim view of a judge problem row the importer needs.
type Problem struct {
	ID   int64
	Code string
	Name string
}

// Language is a registered submission language.
type Language struct {
	ID   int64
	Key  string
	Name string
}

// Submission is a judge submission row.
type Submission struct {
	ID         int64
	ProblemID  int64
	UserID     int64
	LanguageID int64
	Source     string
	CreatedAt  time.Time
}

// Limits carries the configured bounds the assembler applies to imported
// problems. Zero values mean unbounded.
type Limits struct {
	DefaultLanguage string `yaml:"default_language"`
	MinMemoryLimit  int64  `yaml:"min_memory_limit"` // KB
	MaxMemoryLimit  int64  `yaml:"max_memory_limit"` // KB
}

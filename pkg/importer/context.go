// Package importer turns a downloaded Polygon problem package into a fully
// provisioned judge problem.
package importer

import (
	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
	"github.com/acmoj/polygon-importer/pkg/statement"
)

// Reporter receives the named stages of a running import. The worker
// runtime is the only production implementer.
type Reporter interface {
	Report(stage string)
}

// Context carries the per-job state threaded through the pipeline stages.
// It is created when a job starts and never shared across jobs.
type Context struct {
	Source   *judge.ProblemSource
	Author   *judge.Profile
	Reporter Reporter
	Package  *pkgarchive.Archive
	Logger   *logrus.Entry
	TempDir  string
	UploadID string
	Images   *statement.ImageIngester
}

package judge

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/acmoj/polygon-importer/pkg/api"
)

// Store persists judge state in sqlite. All assembler mutations of a
// problem happen inside a single transaction in SaveProblem.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the judge database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		can_import INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS languages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS problem_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS problems (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		time_limit REAL NOT NULL,
		memory_limit INTEGER NOT NULL,
		description TEXT NOT NULL,
		partial INTEGER NOT NULL,
		points REAL NOT NULL,
		group_id INTEGER REFERENCES problem_groups(id)
	);

	CREATE TABLE IF NOT EXISTS problem_authors (
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		PRIMARY KEY (problem_id, profile_id)
	);

	CREATE TABLE IF NOT EXISTS problem_allowed_languages (
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		language_id INTEGER NOT NULL REFERENCES languages(id) ON DELETE CASCADE,
		PRIMARY KEY (problem_id, language_id)
	);

	CREATE TABLE IF NOT EXISTS problem_problem_types (
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		type_id INTEGER NOT NULL REFERENCES problem_types(id) ON DELETE CASCADE,
		PRIMARY KEY (problem_id, type_id)
	);

	CREATE TABLE IF NOT EXISTS problem_translations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		language TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS solutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		is_public INTEGER NOT NULL DEFAULT 0,
		publish_on DATETIME NOT NULL,
		content TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_data (
		problem_id INTEGER PRIMARY KEY REFERENCES problems(id) ON DELETE CASCADE,
		zipfile TEXT NOT NULL,
		unicode INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES profiles(id),
		language_id INTEGER NOT NULL REFERENCES languages(id),
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS judge_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
		rejudge INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		polygon_id INTEGER NOT NULL UNIQUE,
		author_id INTEGER NOT NULL REFERENCES profiles(id),
		problem_code TEXT NOT NULL UNIQUE,
		problem_id INTEGER REFERENCES problems(id),
		main_submission_id INTEGER REFERENCES submissions(id),
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_source_imports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		problem_source_id INTEGER NOT NULL REFERENCES problem_sources(id) ON DELETE CASCADE,
		author_id INTEGER NOT NULL REFERENCES profiles(id),
		status TEXT NOT NULL DEFAULT 'P',
		log TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_imports_source ON problem_source_imports(problem_source_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateProfile registers a profile. Used by administrative tooling and
// tests; the web judge owns user management.
func (s *Store) CreateProfile(username string, canImport bool) (*Profile, error) {
	res, err := s.db.Exec(`INSERT INTO profiles (username, can_import) VALUES (?, ?)`, username, canImport)
	if err != nil {
		return nil, fmt.Errorf("could not create profile %s: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Profile{ID: id, Username: username, CanImport: canImport}, nil
}

// ProfileByUsername returns the named profile, or nil when unknown.
func (s *Store) ProfileByUsername(username string) (*Profile, error) {
	profile := &Profile{}
	err := s.db.QueryRow(`SELECT id, username, can_import FROM profiles WHERE username = ?`, username).
		Scan(&profile.ID, &profile.Username, &profile.CanImport)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load profile %s: %w", username, err)
	}
	return profile, nil
}

// ProfileByID returns the profile with the given id.
func (s *Store) ProfileByID(id int64) (*Profile, error) {
	profile := &Profile{}
	err := s.db.QueryRow(`SELECT id, username, can_import FROM profiles WHERE id = ?`, id).
		Scan(&profile.ID, &profile.Username, &profile.CanImport)
	if err != nil {
		return nil, fmt.Errorf("could not load profile %d: %w", id, err)
	}
	return profile, nil
}

// EnsureLanguage registers a submission language if it is not present yet.
func (s *Store) EnsureLanguage(key, name string) error {
	_, err := s.db.Exec(`INSERT INTO languages (key, name) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, key, name)
	return err
}

// LanguageExists reports whether a language with the given key is registered.
func (s *Store) LanguageExists(key string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM languages WHERE key = ?`, key).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureType registers a problem type if it is not present yet.
func (s *Store) EnsureType(name string) error {
	_, err := s.db.Exec(`INSERT INTO problem_types (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	return err
}

// EnsureGroup registers a problem group if it is not present yet.
func (s *Store) EnsureGroup(name string) error {
	_, err := s.db.Exec(`INSERT INTO problem_groups (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	return err
}

// CreateProblemSource registers a new import target.
func (s *Store) CreateProblemSource(polygonID int, authorID int64, problemCode string) (*ProblemSource, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO problem_sources (polygon_id, author_id, problem_code, created_at) VALUES (?, ?, ?, ?)`,
		polygonID, authorID, problemCode, now,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create problem source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ProblemSource{ID: id, PolygonID: polygonID, AuthorID: authorID, ProblemCode: problemCode, CreatedAt: now}, nil
}

// ProblemSourceByID returns the problem source with the given id, or nil.
func (s *Store) ProblemSourceByID(id int64) (*ProblemSource, error) {
	source := &ProblemSource{}
	err := s.db.QueryRow(
		`SELECT id, polygon_id, author_id, problem_code, problem_id, main_submission_id, created_at
		 FROM problem_sources WHERE id = ?`, id,
	).Scan(&source.ID, &source.PolygonID, &source.AuthorID, &source.ProblemCode,
		&source.ProblemID, &source.MainSubmissionID, &source.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load problem source %d: %w", id, err)
	}
	return source, nil
}

// SetSourceProblem links a source to the judge problem it created.
func (s *Store) SetSourceProblem(sourceID, problemID int64) error {
	_, err := s.db.Exec(`UPDATE problem_sources SET problem_id = ? WHERE id = ?`, problemID, sourceID)
	return err
}

// SetSourceMainSubmission records the submission created from the package's
// main solution.
func (s *Store) SetSourceMainSubmission(sourceID, submissionID int64) error {
	_, err := s.db.Exec(`UPDATE problem_sources SET main_submission_id = ? WHERE id = ?`, submissionID, sourceID)
	return err
}

// CreateImport opens a new import attempt in status Processing.
func (s *Store) CreateImport(sourceID, authorID int64) (*ProblemSourceImport, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO problem_source_imports (problem_source_id, author_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sourceID, authorID, StatusProcessing, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create import record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ProblemSourceImport{
		ID: id, ProblemSourceID: sourceID, AuthorID: authorID,
		Status: StatusProcessing, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// FinishImport records the terminal state, captured log and error of an
// import attempt.
func (s *Store) FinishImport(importID int64, status, log, errText string) error {
	_, err := s.db.Exec(
		`UPDATE problem_source_imports SET status = ?, log = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, log, errText, time.Now().UTC(), importID,
	)
	return err
}

// ImportsBySource lists the import attempts of a source, newest first.
func (s *Store) ImportsBySource(sourceID int64) ([]ProblemSourceImport, error) {
	rows, err := s.db.Query(
		`SELECT id, problem_source_id, author_id, status, log, error, created_at, updated_at
		 FROM problem_source_imports WHERE problem_source_id = ? ORDER BY id DESC`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list imports for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var imports []ProblemSourceImport
	for rows.Next() {
		record := ProblemSourceImport{}
		if err := rows.Scan(&record.ID, &record.ProblemSourceID, &record.AuthorID, &record.Status,
			&record.Log, &record.Error, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		imports = append(imports, record)
	}
	return imports, rows.Err()
}

// ProblemByCode returns the judge problem with the given code, or nil.
func (s *Store) ProblemByCode(code string) (*Problem, error) {
	problem := &Problem{}
	err := s.db.QueryRow(`SELECT id, code, name FROM problems WHERE code = ?`, code).
		Scan(&problem.ID, &problem.Code, &problem.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load problem %s: %w", code, err)
	}
	return problem, nil
}

// IsAuthor reports whether the profile is among the problem's authors.
// Authors are the editors of a problem.
func (s *Store) IsAuthor(problemID, profileID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM problem_authors WHERE problem_id = ? AND profile_id = ?`,
		problemID, profileID,
	).Scan(&count)
	return count > 0, err
}

// SaveProblem upserts the judge problem and everything hanging off it in
// one transaction: problem row, allowed languages, authors, default type
// and group, translations, solution and the data row pointing at the test
// archive. It returns the problem id and whether the row was created.
func (s *Store) SaveProblem(properties api.ProblemProperties, authorID int64, archiveName string, unicodeHint bool) (int64, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var problemID int64
	created := false
	err = tx.QueryRow(`SELECT id FROM problems WHERE code = ?`, properties.Code).Scan(&problemID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		res, err := tx.Exec(
			`INSERT INTO problems (code, name, time_limit, memory_limit, description, partial, points, group_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT id FROM problem_groups ORDER BY id LIMIT 1))`,
			properties.Code, properties.Name, properties.TimeLimit, properties.MemoryLimit,
			properties.Description, properties.Partial, properties.Points,
		)
		if err != nil {
			return 0, false, fmt.Errorf("could not create problem %s: %w", properties.Code, err)
		}
		if problemID, err = res.LastInsertId(); err != nil {
			return 0, false, err
		}
	case err != nil:
		return 0, false, fmt.Errorf("could not look up problem %s: %w", properties.Code, err)
	default:
		if _, err := tx.Exec(
			`UPDATE problems SET name = ?, time_limit = ?, memory_limit = ?, description = ?, partial = ?, points = ?
			 WHERE id = ?`,
			properties.Name, properties.TimeLimit, properties.MemoryLimit,
			properties.Description, properties.Partial, properties.Points, problemID,
		); err != nil {
			return 0, false, fmt.Errorf("could not update problem %s: %w", properties.Code, err)
		}
	}

	// every registered language is allowed
	if _, err := tx.Exec(
		`INSERT INTO problem_allowed_languages (problem_id, language_id)
		 SELECT ?, id FROM languages
		 ON CONFLICT DO NOTHING`, problemID,
	); err != nil {
		return 0, false, fmt.Errorf("could not set allowed languages: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO problem_authors (problem_id, profile_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		problemID, authorID,
	); err != nil {
		return 0, false, fmt.Errorf("could not add author: %w", err)
	}

	// problems without a type get the first (uncategorized) one
	var typeCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM problem_problem_types WHERE problem_id = ?`, problemID).Scan(&typeCount); err != nil {
		return 0, false, err
	}
	if typeCount == 0 {
		if _, err := tx.Exec(
			`INSERT INTO problem_problem_types (problem_id, type_id)
			 SELECT ?, id FROM problem_types ORDER BY id LIMIT 1`, problemID,
		); err != nil {
			return 0, false, fmt.Errorf("could not set problem type: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM problem_translations WHERE problem_id = ?`, problemID); err != nil {
		return 0, false, err
	}
	for _, translation := range properties.Translations {
		if _, err := tx.Exec(
			`INSERT INTO problem_translations (problem_id, language, name, description) VALUES (?, ?, ?, ?)`,
			problemID, translation.Language, translation.Name, translation.Description,
		); err != nil {
			return 0, false, fmt.Errorf("could not create translation %s: %w", translation.Language, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM solutions WHERE problem_id = ?`, problemID); err != nil {
		return 0, false, err
	}
	if properties.Tutorial != "" {
		if _, err := tx.Exec(
			`INSERT INTO solutions (problem_id, is_public, publish_on, content) VALUES (?, 0, ?, ?)`,
			problemID, time.Now().UTC(), properties.Tutorial,
		); err != nil {
			return 0, false, fmt.Errorf("could not create solution: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO problem_data (problem_id, zipfile, unicode) VALUES (?, ?, ?)
		 ON CONFLICT(problem_id) DO UPDATE SET zipfile = excluded.zipfile, unicode = excluded.unicode`,
		problemID, archiveName, unicodeHint,
	); err != nil {
		return 0, false, fmt.Errorf("could not attach problem data: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("could not commit problem %s: %w", properties.Code, err)
	}
	return problemID, created, nil
}

// TranslationsByProblem lists a problem's translations ordered by language.
func (s *Store) TranslationsByProblem(problemID int64) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT language, name FROM problem_translations WHERE problem_id = ?`, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	translations := map[string]string{}
	for rows.Next() {
		var language, name string
		if err := rows.Scan(&language, &name); err != nil {
			return nil, err
		}
		translations[language] = name
	}
	return translations, rows.Err()
}

// SubmissionSource returns the source text of a submission.
func (s *Store) SubmissionSource(submissionID int64) (string, error) {
	var source string
	err := s.db.QueryRow(`SELECT source FROM submissions WHERE id = ?`, submissionID).Scan(&source)
	if err != nil {
		return "", fmt.Errorf("could not load submission %d: %w", submissionID, err)
	}
	return source, nil
}

// CreateSubmission records a new submission against a problem.
func (s *Store) CreateSubmission(problemID, userID int64, languageKey, source string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO submissions (problem_id, user_id, language_id, source, created_at)
		 VALUES (?, ?, (SELECT id FROM languages WHERE key = ?), ?, ?)`,
		problemID, userID, languageKey, source, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("could not create submission: %w", err)
	}
	return res.LastInsertId()
}

// EnqueueJudge queues a submission for (re)judging.
func (s *Store) EnqueueJudge(submissionID int64, rejudge bool) error {
	_, err := s.db.Exec(
		`INSERT INTO judge_queue (submission_id, rejudge, created_at) VALUES (?, ?, ?)`,
		submissionID, rejudge, time.Now().UTC(),
	)
	return err
}

// SubmissionCount returns the number of submissions for a problem.
func (s *Store) SubmissionCount(problemID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE problem_id = ?`, problemID).Scan(&count)
	return count, err
}

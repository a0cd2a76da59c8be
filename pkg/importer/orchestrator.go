package importer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
	"github.com/acmoj/polygon-importer/pkg/polygon"
	"github.com/acmoj/polygon-importer/pkg/statement"
)

// The named stages reported to the worker runtime, in order.
const (
	StageDownload   = "Downloading problem archive"
	StageTestsets   = "Processing testsets"
	StageAssets     = "Processing assets"
	StageStatements = "Processing statements"
	StageSave       = "Saving problem"
)

var codePattern = regexp.MustCompile(`^[a-z0-9]+$`)

// MaxCodeLength bounds judge problem codes.
const MaxCodeLength = 20

// ValidateCode checks a candidate problem code against the judge's rules.
func ValidateCode(code string) error {
	if len(code) == 0 || len(code) > MaxCodeLength || !codePattern.MatchString(code) {
		return api.ImportErrorf("problem code must match ^[a-z0-9]+$ and be at most %d characters", MaxCodeLength)
	}
	return nil
}

// Importer runs import jobs end to end. One Importer serves all jobs; all
// per-job state lives in the job's Context.
type Importer struct {
	Store     *judge.Store
	Media     *judge.MediaStore
	Client    polygon.Client
	Converter statement.Converter
	Limits    judge.Limits
	DataRoot  string
}

// Run performs one import attempt for the given problem source. Any error,
// including cancellation, travels the failure path: media rollback, log and
// error capture, import status Failed.
func (imp *Importer) Run(ctx context.Context, sourceID int64, reporter Reporter, parentLogger *logrus.Entry) error {
	source, err := imp.Store.ProblemSourceByID(sourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("problem source %d does not exist", sourceID)
	}
	author, err := imp.Store.ProfileByID(source.AuthorID)
	if err != nil {
		return err
	}

	record, err := imp.Store.CreateImport(source.ID, source.AuthorID)
	if err != nil {
		return err
	}

	logger, capture := newLogCapture(parentLogger.WithField("source", source.ID))

	runErr := imp.runPipeline(ctx, source, author, reporter, logger)

	status := judge.StatusCompleted
	errText := ""
	if runErr != nil {
		status = judge.StatusFailed
		errText = runErr.Error()
		logger.WithError(runErr).Error("Import failed")
	}
	if err := imp.Store.FinishImport(record.ID, status, capture.Contents(), errText); err != nil {
		logger.WithError(err).Error("Could not finalize import record")
	}
	return runErr
}

func (imp *Importer) runPipeline(ctx context.Context, source *judge.ProblemSource, author *judge.Profile, reporter Reporter, logger *logrus.Entry) error {
	code := source.ProblemCode
	if err := ValidateCode(code); err != nil {
		return err
	}
	if source.ProblemID == nil {
		existing, err := imp.Store.ProblemByCode(code)
		if err != nil {
			return err
		}
		if existing != nil {
			return api.ImportErrorf("problem with code %s already exists", code)
		}
	}

	tempDir, err := os.MkdirTemp("", "polygon-import")
	if err != nil {
		return fmt.Errorf("could not create scratch directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	reporter.Report(StageDownload)
	archivePath := filepath.Join(tempDir, "archive.zip")
	if err := imp.download(ctx, source.PolygonID, archivePath, logger); err != nil {
		return err
	}

	pkg, err := pkgarchive.Open(archivePath)
	if err != nil {
		return err
	}
	defer pkg.Close()

	uploadID := newUploadID()
	ictx := &Context{
		Source:   source,
		Author:   author,
		Reporter: reporter,
		Package:  pkg,
		Logger:   logger,
		TempDir:  tempDir,
		UploadID: uploadID,
		Images:   statement.NewImageIngester(pkg, imp.Media, code, uploadID, logger),
	}

	logger.WithField("revision", pkg.Problem.Revision).Info("Importing problem")

	if err := imp.importProblem(ctx, ictx); err != nil {
		// the job's own media must not outlive a failed job
		if ictx.Images.Uploaded() {
			if cleanupErr := imp.Media.RemoveAll(ictx.Images.UploadDir()); cleanupErr != nil {
				logger.WithError(cleanupErr).Warn("Could not remove uploaded media")
			}
		}
		return err
	}
	return nil
}

func (imp *Importer) importProblem(ctx context.Context, ictx *Context) error {
	ictx.Reporter.Report(StageTestsets)
	config, err := ParseTests(ictx)
	if err != nil {
		return err
	}

	ictx.Reporter.Report(StageAssets)
	if err := ParseAssets(ictx, config); err != nil {
		return err
	}

	ictx.Reporter.Report(StageStatements)
	statements, err := statement.Parse(ctx, statement.Options{
		Archive:   ictx.Package,
		Converter: imp.Converter,
		Images:    ictx.Images,
		Logger:    ictx.Logger,
	})
	if err != nil {
		return err
	}

	ictx.Reporter.Report(StageSave)
	properties, err := BuildProperties(ictx, statements, config, imp.Limits)
	if err != nil {
		return err
	}
	problemID, err := SaveProblem(ictx, imp.Store, imp.DataRoot, properties, config)
	if err != nil {
		return err
	}
	if err := imp.Store.SetSourceProblem(ictx.Source.ID, problemID); err != nil {
		return err
	}
	ictx.Source.ProblemID = &problemID

	if err := RejudgeMainSolution(ictx, imp.Store, problemID); err != nil {
		return err
	}

	imp.cleanup(ictx, config)
	return nil
}

// cleanup drops stale files from the problem data directory and stale
// upload directories from media storage. Only files of older imports are
// affected; the expected set of the current import stays.
func (imp *Importer) cleanup(ictx *Context, config *api.ProblemConfig) {
	expected := map[string]bool{"init.yml": true, config.Archive: true}
	for _, file := range config.Files() {
		expected[file] = true
	}

	problemDir := filepath.Join(imp.DataRoot, ictx.Source.ProblemCode)
	entries, err := os.ReadDir(problemDir)
	if err != nil {
		ictx.Logger.WithError(err).Warn("Could not list problem data directory")
	}
	for _, entry := range entries {
		if expected[entry.Name()] {
			continue
		}
		ictx.Logger.WithField("file", entry.Name()).Info("Removing stale file")
		if err := os.RemoveAll(filepath.Join(problemDir, entry.Name())); err != nil {
			ictx.Logger.WithError(err).Warn("Could not remove stale file")
		}
	}

	uploadRoot := fmt.Sprintf("problems/%s", ictx.Source.ProblemCode)
	uploads, err := imp.Media.ListDir(uploadRoot)
	if err != nil {
		ictx.Logger.WithError(err).Warn("Could not list media uploads")
	}
	for _, upload := range uploads {
		if upload == ictx.UploadID {
			continue
		}
		ictx.Logger.WithField("upload", upload).Info("Removing stale media upload")
		if err := imp.Media.RemoveAll(uploadRoot + "/" + upload); err != nil {
			ictx.Logger.WithError(err).Warn("Could not remove stale media upload")
		}
	}
}

func (imp *Importer) download(ctx context.Context, polygonID int, destination string, logger *logrus.Entry) error {
	problem, err := imp.Client.GetProblem(ctx, polygonID)
	if err != nil {
		return err
	}
	logger.WithField("name", problem.Name).WithField("owner", problem.Owner).Info("Found problem")

	packages, err := imp.Client.GetPackages(ctx, polygonID)
	if err != nil {
		return err
	}
	latest, err := polygon.LatestReadyPackage(packages)
	if err != nil {
		return err
	}
	logger.WithField("package", latest.ID).WithField("revision", latest.Revision).Info("Downloading package")

	return imp.Client.SavePackage(ctx, polygonID, latest.ID, destination, polygon.PackageTypeLinux)
}

// newUploadID returns the short random hex string namespacing this job's
// media uploads.
func newUploadID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

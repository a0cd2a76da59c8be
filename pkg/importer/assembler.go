package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/judge"
)

// tutorialSeparator joins the tutorials of all statements into one solution
// document.
const tutorialSeparator = "\n\n----\n\n"

// BuildProperties merges the parsed statements, limits and scoring into the
// properties written to the judge's problem row.
func BuildProperties(ctx *Context, statements []api.Statement, config *api.ProblemConfig, limits judge.Limits) (api.ProblemProperties, error) {
	mainLanguage := strings.SplitN(limits.DefaultLanguage, "-", 2)[0]

	var main *api.Statement
	for i := range statements {
		if statements[i].Language == mainLanguage {
			main = &statements[i]
			break
		}
	}
	if main == nil {
		main = &statements[0]
		ctx.Logger.WithField("language", main.Language).
			Infof("Statement in %s not found, using fallback as main", mainLanguage)
	}

	var others []api.Statement
	for _, s := range statements {
		if s.Language != "" && s.Language != main.Language {
			others = append(others, s)
		}
	}

	var tutorials []string
	for _, s := range append([]api.Statement{*main}, others...) {
		if s.Tutorial != "" {
			tutorials = append(tutorials, s.Tutorial)
		}
	}

	testset := ctx.Package.Problem.Testset("tests")
	if testset == nil {
		return api.ProblemProperties{}, api.ImportErrorf(`testset "tests" is missing`)
	}

	memoryLimit := testset.MemoryLimitBytes / 1024 // KB
	if limits.MinMemoryLimit > 0 && memoryLimit < limits.MinMemoryLimit {
		memoryLimit = limits.MinMemoryLimit
	}
	if limits.MaxMemoryLimit > 0 && memoryLimit > limits.MaxMemoryLimit {
		memoryLimit = limits.MaxMemoryLimit
	}

	totalPoints := 0
	for _, item := range config.TestCases {
		switch item := item.(type) {
		case api.SingleTest:
			totalPoints += item.Points
		case api.Batch:
			totalPoints += item.Points
		}
	}

	partial := true
	if totalPoints == 0 {
		ctx.Logger.Info("No points configured, treating problem as non-partial")
		partial = false
		totalPoints = 1
		// the judge requires at least one scored test
		last := len(config.TestCases) - 1
		switch item := config.TestCases[last].(type) {
		case api.SingleTest:
			item.Points = 1
			config.TestCases[last] = item
		case api.Batch:
			item.Points = 1
			config.TestCases[last] = item
		}
	} else {
		ctx.Logger.Info("Points configured, treating problem as partial")
	}

	return api.ProblemProperties{
		Code:         ctx.Source.ProblemCode,
		Name:         main.Name,
		TimeLimit:    float64(testset.TimeLimitMS) / 1000, // seconds
		MemoryLimit:  memoryLimit,
		Description:  main.Description,
		Partial:      partial,
		Points:       float64(totalPoints),
		Translations: others,
		Tutorial:     strings.Join(tutorials, tutorialSeparator),
	}, nil
}

// SaveProblem persists the problem through the judge store, then stages the
// test archive, supporting files and init.yml into the problem's data
// directory. Database mutations are one transaction; filesystem staging
// happens only after commit.
func SaveProblem(ctx *Context, store *judge.Store, dataRoot string, properties api.ProblemProperties, config *api.ProblemConfig) (int64, error) {
	unicodeHint := false
	for _, hint := range config.Hints {
		if hint == "unicode" {
			unicodeHint = true
		}
	}

	problemID, created, err := store.SaveProblem(properties, ctx.Author.ID, config.Archive, unicodeHint)
	if err != nil {
		return 0, err
	}
	if created {
		ctx.Logger.Info("Created new problem")
	} else {
		ctx.Logger.Info("Updating existing problem")
	}

	problemDir := filepath.Join(dataRoot, properties.Code)
	if err := os.MkdirAll(problemDir, 0o755); err != nil {
		return 0, fmt.Errorf("could not create problem data directory: %w", err)
	}

	staged := append([]string{config.Archive}, config.Files()...)
	for _, name := range staged {
		if err := moveFile(filepath.Join(ctx.TempDir, name), filepath.Join(problemDir, name)); err != nil {
			return 0, err
		}
	}

	manifest, err := json.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("could not serialize problem config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(problemDir, "init.yml"), manifest, 0o644); err != nil {
		return 0, fmt.Errorf("could not write init.yml: %w", err)
	}

	return problemID, nil
}

// solutionLanguages maps Polygon solution source types to judge language
// keys. Solutions in anything else are skipped with a warning.
var solutionLanguages = map[string]string{
	"cpp.g++14":    "CPP14",
	"cpp.g++17":    "CPP17",
	"cpp.g++20":    "CPP20",
	"cpp.gcc14-64": "CPP20",
	"python.3":     "PY3",
	"python.pypy3": "PYPY3",
	"java.11":      "JAVA11",
	"java.21":      "JAVA21",
	"kotlin.1.9":   "KOTLIN",
	"rust.2021":    "RUST",
}

// RejudgeMainSolution submits the package's main solution for regression
// judging. An unchanged source re-queues the existing submission instead of
// creating a new row.
func RejudgeMainSolution(ctx *Context, store *judge.Store, problemID int64) error {
	solution := ctx.Package.Problem.MainSolution()
	if solution == nil || solution.Source == nil {
		ctx.Logger.Warn("Package has no main solution, skipping rejudge")
		return nil
	}

	languageKey, ok := solutionLanguages[solution.Source.Type]
	if !ok {
		ctx.Logger.WithField("type", solution.Source.Type).Warn("Unsupported main solution language, skipping rejudge")
		return nil
	}
	if exists, err := store.LanguageExists(languageKey); err != nil {
		return err
	} else if !exists {
		ctx.Logger.WithField("language", languageKey).Warn("Main solution language not registered on the judge, skipping rejudge")
		return nil
	}

	raw, err := ctx.Package.Read(solution.Source.Path)
	if err != nil {
		return err
	}
	if !utf8.Valid(raw) {
		ctx.Logger.Warn("Main solution source is not valid UTF-8, skipping rejudge")
		return nil
	}
	source := string(raw)

	if ctx.Source.MainSubmissionID != nil {
		existing, err := store.SubmissionSource(*ctx.Source.MainSubmissionID)
		if err != nil {
			return err
		}
		if existing == source {
			ctx.Logger.Info("Main solution unchanged, rejudging existing submission")
			return store.EnqueueJudge(*ctx.Source.MainSubmissionID, true)
		}
	}

	ctx.Logger.WithField("language", languageKey).Info("Submitting main solution")
	submissionID, err := store.CreateSubmission(problemID, ctx.Author.ID, languageKey, source)
	if err != nil {
		return err
	}
	if err := store.SetSourceMainSubmission(ctx.Source.ID, submissionID); err != nil {
		return err
	}
	ctx.Source.MainSubmissionID = &submissionID
	return store.EnqueueJudge(submissionID, false)
}

// moveFile moves across filesystems, where a plain rename may fail.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("could not move %s to %s: %w", src, dst, err)
	}
	return os.Remove(src)
}

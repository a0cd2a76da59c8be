package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/polygon"
	"github.com/acmoj/polygon-importer/pkg/testhelper"
)

type fakeClient struct {
	problem  *polygon.Problem
	packages []polygon.Package
	archive  string
}

func (f *fakeClient) GetProblem(_ context.Context, _ int) (*polygon.Problem, error) {
	return f.problem, nil
}

func (f *fakeClient) GetPackages(_ context.Context, _ int) ([]polygon.Package, error) {
	return f.packages, nil
}

func (f *fakeClient) SavePackage(_ context.Context, _, _ int, destination, _ string) error {
	src, err := os.Open(f.archive)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

type stubConverter struct{}

func (stubConverter) TeXToMarkdown(_ context.Context, tex string) (string, error) {
	return strings.TrimSpace(tex), nil
}

type stageRecorder struct {
	stages []string
}

func (r *stageRecorder) Report(stage string) {
	r.stages = append(r.stages, stage)
}

const e2eDescriptor = `<problem revision="5" short-name="aplusb">
<names><name language="english" value="A Plus B"/></names>
<statements>
<statement language="english" type="application/x-tex" path="statements/english/problem.tex"/>
</statements>
<judging>
<testset name="tests">
<time-limit>1000</time-limit>
<memory-limit>268435456</memory-limit>
<input-path-pattern>tests/%02d</input-path-pattern>
<answer-path-pattern>tests/%02d.a</answer-path-pattern>
<tests><test points="40"/><test points="60"/></tests>
</testset>
</judging>
<assets>
<checker type="testlib"><source path="check.cpp" type="cpp.g++17"/></checker>
<solutions>
<solution tag="main"><source path="solutions/main.cpp" type="cpp.g++17"/></solution>
</solutions>
</assets>
</problem>`

const e2eProperties = `{
	"legend": "Add $a$ and $b$.\n\n![image](pic.png)",
	"input": "Two integers.",
	"output": "One integer.",
	"sampleTests": [{"input": "1 2", "output": "3"}],
	"tutorial": "Just add them.\n\n![image](pic.png)"
}`

func buildProblemPackage(t *testing.T, mainSolution string) string {
	members := testFiles("tests", 2)
	members["problem.xml"] = []byte(e2eDescriptor)
	members["check.cpp"] = []byte("// checker source")
	members["files/testlib.h"] = []byte("// testlib")
	members["solutions/main.cpp"] = []byte(mainSolution)
	members["statements/english/problem.tex"] = []byte("statement body")
	members["statements/english/problem-properties.json"] = []byte(e2eProperties)
	members["statements/english/pic.png"] = []byte("png bytes")
	return testhelper.BuildZip(t, members)
}

type importEnv struct {
	importer *Importer
	client   *fakeClient
	store    *judge.Store
	media    *judge.MediaStore
	source   *judge.ProblemSource
	author   *judge.Profile
}

func newImportEnv(t *testing.T) *importEnv {
	t.Helper()

	store, err := judge.NewStore(filepath.Join(t.TempDir(), "judge.db"))
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureLanguage("CPP17", "C++17"); err != nil {
		t.Fatalf("could not register language: %v", err)
	}
	author, err := store.CreateProfile("setter", true)
	if err != nil {
		t.Fatalf("could not create profile: %v", err)
	}
	source, err := store.CreateProblemSource(42, author.ID, "aplusb")
	if err != nil {
		t.Fatalf("could not create problem source: %v", err)
	}

	client := &fakeClient{
		problem:  &polygon.Problem{ID: 42, Owner: "setter", Name: "aplusb", Revision: 5},
		packages: []polygon.Package{{ID: 7, Revision: 5, CreationTimeSeconds: 100, State: polygon.PackageStateReady}},
		archive:  buildProblemPackage(t, "int main() { return 0; }"),
	}
	media := judge.NewMediaStore(afero.NewMemMapFs(), "/media", "https://static.example.com")

	return &importEnv{
		importer: &Importer{
			Store:     store,
			Media:     media,
			Client:    client,
			Converter: stubConverter{},
			Limits:    judge.Limits{DefaultLanguage: "en"},
			DataRoot:  t.TempDir(),
		},
		client: client,
		store:  store,
		media:  media,
		source: source,
		author: author,
	}
}

func (e *importEnv) run(t *testing.T) error {
	t.Helper()
	recorder := &stageRecorder{}
	err := e.importer.Run(context.Background(), e.source.ID, recorder, discardLogger())
	if err == nil {
		expected := []string{StageDownload, StageTestsets, StageAssets, StageStatements, StageSave}
		if diff := cmp.Diff(expected, recorder.stages); diff != "" {
			t.Errorf("reported stages do not match expected, diff: %s", diff)
		}
	}
	return err
}

func TestImportEndToEnd(t *testing.T) {
	env := newImportEnv(t)
	if err := env.run(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	problem, err := env.store.ProblemByCode("aplusb")
	if err != nil {
		t.Fatalf("could not load problem: %v", err)
	}
	if problem == nil {
		t.Fatal("expected the import to create a problem")
	}
	if problem.Name != "A Plus B" {
		t.Errorf("unexpected problem name: %q", problem.Name)
	}

	source, err := env.store.ProblemSourceByID(env.source.ID)
	if err != nil {
		t.Fatalf("could not reload source: %v", err)
	}
	if source.ProblemID == nil || *source.ProblemID != problem.ID {
		t.Errorf("expected the source to link to problem %d, got %v", problem.ID, source.ProblemID)
	}
	if source.MainSubmissionID == nil {
		t.Error("expected the main solution to be submitted")
	}
	if count, err := env.store.SubmissionCount(problem.ID); err != nil || count != 1 {
		t.Errorf("expected 1 submission, got %d (err: %v)", count, err)
	}

	imports, err := env.store.ImportsBySource(env.source.ID)
	if err != nil {
		t.Fatalf("could not list imports: %v", err)
	}
	if len(imports) != 1 || imports[0].Status != judge.StatusCompleted {
		t.Fatalf("expected one completed import, got %+v", imports)
	}
	if imports[0].Log == "" {
		t.Error("expected the import log to be captured")
	}

	problemDir := filepath.Join(env.importer.DataRoot, "aplusb")
	entries, err := os.ReadDir(problemDir)
	if err != nil {
		t.Fatalf("could not list problem data directory: %v", err)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for _, expected := range []string{"init.yml", "checker.cpp", "testlib.h"} {
		if !names[expected] {
			t.Errorf("expected %s in the problem data directory, have %v", expected, names)
		}
	}

	// legend and tutorial reference the same image; one upload serves both
	uploads, err := env.media.ListDir("problems/aplusb")
	if err != nil {
		t.Fatalf("could not list media uploads: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("expected one upload directory, got %v", uploads)
	}
	images, err := env.media.ListDir("problems/aplusb/" + uploads[0])
	if err != nil {
		t.Fatalf("could not list uploaded images: %v", err)
	}
	if len(images) != 1 || !strings.HasSuffix(images[0], "_pic.png") {
		t.Errorf("expected a single content-addressed image, got %v", images)
	}
}

func TestReimportIsIdempotent(t *testing.T) {
	env := newImportEnv(t)
	if err := env.run(t); err != nil {
		t.Fatalf("unexpected error on first import: %v", err)
	}
	first, err := env.store.ProblemSourceByID(env.source.ID)
	if err != nil {
		t.Fatalf("could not reload source: %v", err)
	}
	firstUploads, err := env.media.ListDir("problems/aplusb")
	if err != nil {
		t.Fatalf("could not list media uploads: %v", err)
	}

	if err := env.run(t); err != nil {
		t.Fatalf("unexpected error on reimport: %v", err)
	}

	second, err := env.store.ProblemSourceByID(env.source.ID)
	if err != nil {
		t.Fatalf("could not reload source: %v", err)
	}
	if *first.ProblemID != *second.ProblemID {
		t.Errorf("reimport must update the same problem, got %d then %d", *first.ProblemID, *second.ProblemID)
	}
	// the main solution did not change, so the existing submission is rejudged
	if *first.MainSubmissionID != *second.MainSubmissionID {
		t.Errorf("unchanged main solution must keep its submission, got %d then %d",
			*first.MainSubmissionID, *second.MainSubmissionID)
	}
	if count, err := env.store.SubmissionCount(*second.ProblemID); err != nil || count != 1 {
		t.Errorf("expected 1 submission after reimport, got %d (err: %v)", count, err)
	}

	imports, err := env.store.ImportsBySource(env.source.ID)
	if err != nil {
		t.Fatalf("could not list imports: %v", err)
	}
	if len(imports) != 2 {
		t.Fatalf("expected two import records, got %d", len(imports))
	}
	if imports[0].ID < imports[1].ID {
		t.Error("imports must be listed newest first")
	}

	// the stale upload directory of the first import is swept
	uploads, err := env.media.ListDir("problems/aplusb")
	if err != nil {
		t.Fatalf("could not list media uploads: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("expected one upload directory after reimport, got %v", uploads)
	}
	if uploads[0] == firstUploads[0] {
		t.Error("expected the reimport to replace the previous upload directory")
	}
}

func TestReimportChangedMainSolution(t *testing.T) {
	env := newImportEnv(t)
	if err := env.run(t); err != nil {
		t.Fatalf("unexpected error on first import: %v", err)
	}
	first, err := env.store.ProblemSourceByID(env.source.ID)
	if err != nil {
		t.Fatalf("could not reload source: %v", err)
	}

	env.client.archive = buildProblemPackage(t, "int main() { return 1; }")
	if err := env.run(t); err != nil {
		t.Fatalf("unexpected error on reimport: %v", err)
	}

	second, err := env.store.ProblemSourceByID(env.source.ID)
	if err != nil {
		t.Fatalf("could not reload source: %v", err)
	}
	if *first.MainSubmissionID == *second.MainSubmissionID {
		t.Error("a changed main solution must create a new submission")
	}
	if count, err := env.store.SubmissionCount(*second.ProblemID); err != nil || count != 2 {
		t.Errorf("expected 2 submissions after the solution changed, got %d (err: %v)", count, err)
	}
}

func TestImportFailsOnDuplicateCode(t *testing.T) {
	env := newImportEnv(t)
	// a problem with the target code that this source did not create
	if _, _, err := env.store.SaveProblem(api.ProblemProperties{
		Code: "aplusb", Name: "Other", TimeLimit: 1, MemoryLimit: 65536, Points: 1,
	}, env.author.ID, "other.zip", false); err != nil {
		t.Fatalf("could not seed conflicting problem: %v", err)
	}

	err := env.importer.Run(context.Background(), env.source.ID, &stageRecorder{}, discardLogger())
	if err == nil || !api.IsImportError(err) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if err.Error() != "problem with code aplusb already exists" {
		t.Errorf("unexpected error message: %v", err)
	}

	imports, err := env.store.ImportsBySource(env.source.ID)
	if err != nil {
		t.Fatalf("could not list imports: %v", err)
	}
	if len(imports) != 1 || imports[0].Status != judge.StatusFailed {
		t.Fatalf("expected one failed import, got %+v", imports)
	}
	if imports[0].Error == "" {
		t.Error("expected the import error to be recorded")
	}
}

func TestValidateCode(t *testing.T) {
	for _, tc := range []struct {
		code  string
		valid bool
	}{
		{"aplusb", true},
		{"abc123", true},
		{"", false},
		{"UPPER", false},
		{"has-dash", false},
		{"has space", false},
		{strings.Repeat("a", MaxCodeLength), true},
		{strings.Repeat("a", MaxCodeLength+1), false},
	} {
		err := ValidateCode(tc.code)
		if tc.valid && err != nil {
			t.Errorf("expected %q to be valid, got %v", tc.code, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("expected %q to be rejected", tc.code)
		}
	}
}

func TestImportFailureRemovesFreshUploads(t *testing.T) {
	env := newImportEnv(t)
	// an archive whose statement references a missing image: the failure
	// happens after the legend's image was already uploaded
	members := testFiles("tests", 2)
	members["problem.xml"] = []byte(e2eDescriptor)
	members["check.cpp"] = []byte("// checker source")
	members["files/testlib.h"] = []byte("// testlib")
	members["solutions/main.cpp"] = []byte("int main() {}")
	members["statements/english/problem.tex"] = []byte("statement body")
	members["statements/english/problem-properties.json"] = []byte(`{
		"legend": "![image](pic.png)",
		"tutorial": "![image](missing.png)"
	}`)
	members["statements/english/pic.png"] = []byte("png bytes")
	env.client.archive = testhelper.BuildZip(t, members)

	err := env.importer.Run(context.Background(), env.source.ID, &stageRecorder{}, discardLogger())
	if err == nil || !api.IsImportError(err) {
		t.Fatalf("expected a domain error, got %v", err)
	}

	uploads, err := env.media.ListDir("problems/aplusb")
	if err != nil {
		t.Fatalf("could not list media uploads: %v", err)
	}
	if len(uploads) != 0 {
		t.Errorf("expected failed import to remove its uploads, got %v", uploads)
	}
}

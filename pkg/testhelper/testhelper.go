// Package testhelper holds shared helpers for table tests and fixture
// comparison.
package testhelper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pmezard/go-difflib/difflib"
)

// EquateErrorMessage compares errors by message text, treating nil errors
// as equal to each other only. The filter is keyed on interface{} so the
// option still applies when the two errors have different concrete types
// and are compared at the root of a diff.
var EquateErrorMessage = cmp.FilterValues(func(x, y interface{}) bool {
	_, okX := x.(error)
	_, okY := y.(error)
	return (okX || x == nil) && (okY || y == nil)
}, cmp.Comparer(func(x, y interface{}) bool {
	xe, _ := x.(error)
	ye, _ := y.(error)
	if xe == nil || ye == nil {
		return xe == nil && ye == nil
	}
	return xe.Error() == ye.Error()
}))

// CompareWithFixture compares output with a test fixture and allows to
// automatically update it by setting the UPDATE env var. If output is not
// a []byte or string, it is serialized as indented JSON first. Fixtures
// live in $PWD/testdata/zz_fixture_<testName>.json.
func CompareWithFixture(t *testing.T, output interface{}) {
	t.Helper()

	var serialized []byte
	switch v := output.(type) {
	case []byte:
		serialized = v
	case string:
		serialized = []byte(v)
	default:
		var err error
		serialized, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			t.Fatalf("failed to json marshal output of type %T: %v", output, err)
		}
	}

	golden, err := filepath.Abs(filepath.Join("testdata", sanitizeFilename(t.Name())+".json"))
	if err != nil {
		t.Fatalf("failed to get absolute path to testdata file: %v", err)
	}
	if os.Getenv("UPDATE") != "" {
		if err := os.MkdirAll(filepath.Dir(golden), 0o755); err != nil {
			t.Fatalf("failed to create fixture directory: %v", err)
		}
		if err := os.WriteFile(golden, serialized, 0o644); err != nil {
			t.Fatalf("failed to write updated fixture: %v", err)
		}
	}
	expected, err := os.ReadFile(golden)
	if err != nil {
		t.Fatalf("failed to read testdata file: %v", err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(expected)),
		B:        difflib.SplitLines(string(serialized)),
		FromFile: "Fixture",
		ToFile:   "Current",
		Context:  3,
	}
	diffStr, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		t.Fatal(err)
	}

	if diffStr != "" {
		t.Errorf("got diff between expected and actual result: \n%s\n\nIf this is expected, re-run the test with `UPDATE=true go test ./...` to update the fixtures.", diffStr)
	}
}

func sanitizeFilename(s string) string {
	result := strings.Builder{}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '.' || (r >= '0' && r <= '9') {
			_, _ = result.WriteRune(r)
			continue
		}
		if !strings.HasSuffix(result.String(), "_") {
			result.WriteRune('_')
		}
	}
	return "zz_fixture_" + result.String()
}

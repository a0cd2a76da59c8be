package importer

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
	"github.com/acmoj/polygon-importer/pkg/testhelper"
)

func discardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testContext(t *testing.T, members map[string][]byte) *Context {
	t.Helper()
	archive, err := pkgarchive.Open(testhelper.BuildZip(t, members))
	if err != nil {
		t.Fatalf("could not open test package: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return &Context{
		Package: archive,
		Logger:  discardLogger(),
		TempDir: t.TempDir(),
	}
}

func descriptorWithJudging(judging string) []byte {
	return []byte(fmt.Sprintf(`<problem revision="3" short-name="demo">
<names><name language="english" value="Demo"/></names>
<judging>%s</judging>
</problem>`, judging))
}

// testsetXML renders a testset over tests/%%02d files with the given test and
// group elements.
func testsetXML(name, tests, groups string) string {
	groupsBlock := ""
	if groups != "" {
		groupsBlock = "<groups>" + groups + "</groups>"
	}
	return fmt.Sprintf(`<testset name="%s">
<time-limit>1000</time-limit>
<memory-limit>268435456</memory-limit>
<input-path-pattern>%s/%%02d</input-path-pattern>
<answer-path-pattern>%s/%%02d.a</answer-path-pattern>
<tests>%s</tests>
%s
</testset>`, name, name, name, tests, groupsBlock)
}

// testFiles returns n input/answer member pairs for the named testset.
func testFiles(name string, n int) map[string][]byte {
	members := map[string][]byte{}
	for i := 1; i <= n; i++ {
		members[fmt.Sprintf("%s/%02d", name, i)] = []byte(fmt.Sprintf("in %d\n", i))
		members[fmt.Sprintf("%s/%02d.a", name, i)] = []byte(fmt.Sprintf("out %d\n", i))
	}
	return members
}

func TestParseTestset(t *testing.T) {
	testCases := []struct {
		name          string
		judging       string
		tests         int
		expected      []api.TestItem
		expectedError error
	}{
		{
			name:    "ungrouped integer points",
			judging: testsetXML("tests", `<test points="30"/><test points="70"/>`, ""),
			tests:   2,
			expected: []api.TestItem{
				api.SingleTest{In: "tests-01.inp", Out: "tests-01.out", Points: 30},
				api.SingleTest{In: "tests-02.inp", Out: "tests-02.out", Points: 70},
			},
		},
		{
			name: "complete groups with dependencies",
			judging: testsetXML("tests",
				`<test group="samples"/><test group="main"/><test group="main"/>`,
				`<group name="samples" points="0" points-policy="complete-group"/>
<group name="main" points="100" points-policy="complete-group">
<dependencies><dependency group="samples"/></dependencies>
</group>`),
			tests: 3,
			expected: []api.TestItem{
				api.Batch{Batched: []api.TestCase{{In: "tests-01.inp", Out: "tests-01.out"}}, Points: 0},
				api.Batch{
					Batched: []api.TestCase{
						{In: "tests-02.inp", Out: "tests-02.out"},
						{In: "tests-03.inp", Out: "tests-03.out"},
					},
					Points:       100,
					Dependencies: []int{1},
				},
			},
		},
		{
			name: "each-test group scores tests individually",
			judging: testsetXML("tests",
				`<test group="each" points="40"/><test group="each" points="60"/>`,
				`<group name="each" points="100" points-policy="each-test"/>`),
			tests: 2,
			expected: []api.TestItem{
				api.SingleTest{In: "tests-01.inp", Out: "tests-01.out", Points: 40},
				api.SingleTest{In: "tests-02.inp", Out: "tests-02.out", Points: 60},
			},
		},
		{
			name: "fractional points are normalized",
			judging: testsetXML("tests",
				`<test points="0.5"/><test points="0.25"/>`, ""),
			tests: 2,
			expected: []api.TestItem{
				api.SingleTest{In: "tests-01.inp", Out: "tests-01.out", Points: 2},
				api.SingleTest{In: "tests-02.inp", Out: "tests-02.out", Points: 1},
			},
		},
		{
			name: "unknown points policy",
			judging: testsetXML("tests",
				`<test group="g"/>`,
				`<group name="g" points="10" points-policy="first-failure"/>`),
			tests:         1,
			expectedError: fmt.Errorf(`group g has unknown points policy "first-failure"`),
		},
		{
			name: "each-test group with dependencies",
			judging: testsetXML("tests",
				`<test group="each" points="10"/>`,
				`<group name="each" points="10" points-policy="each-test">
<dependencies><dependency group="other"/></dependencies>
</group>`),
			tests:         1,
			expectedError: fmt.Errorf("dependencies only supported for groups with complete-group policy"),
		},
		{
			name: "dependency on each-test group",
			judging: testsetXML("tests",
				`<test group="main"/>`,
				`<group name="each" points="10" points-policy="each-test"/>
<group name="main" points="90" points-policy="complete-group">
<dependencies><dependency group="each"/></dependencies>
</group>`),
			tests:         1,
			expectedError: fmt.Errorf("group main depends on group each that does not exist or has each-test points policy"),
		},
		{
			name: "unscored test outside complete groups",
			judging: testsetXML("tests",
				`<test/>`,
				`<group name="main" points="100" points-policy="complete-group"/>`),
			tests:         1,
			expectedError: fmt.Errorf("all tests in groups with each-test policy should be scored"),
		},
		{
			name:          "missing input file",
			judging:       testsetXML("tests", `<test points="10"/><test points="20"/>`, ""),
			tests:         1,
			expectedError: fmt.Errorf("input file tests/02 for test 2 is missing"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			members := testFiles("tests", tc.tests)
			members["problem.xml"] = descriptorWithJudging(tc.judging)
			ctx := testContext(t, members)

			actual, actualError := parseTestset(ctx, zip.NewWriter(io.Discard), "tests")
			if diff := cmp.Diff(tc.expectedError, actualError, testhelper.EquateErrorMessage); diff != "" {
				t.Fatalf("actual error does not match expected, diff: %s", diff)
			}
			if actualError != nil {
				return
			}
			if diff := cmp.Diff(tc.expected, actual); diff != "" {
				t.Errorf("actual does not match expected, diff: %s", diff)
			}
		})
	}
}

func TestParseTests(t *testing.T) {
	members := testFiles("tests", 2)
	for name, content := range testFiles("pretests", 1) {
		members[name] = content
	}
	members["problem.xml"] = descriptorWithJudging(
		testsetXML("pretests", `<test points="1"/>`, "") +
			testsetXML("tests", `<test points="30"/><test points="70"/>`, ""))
	ctx := testContext(t, members)

	config, err := ParseTests(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedTests := []api.TestItem{
		api.SingleTest{In: "tests-01.inp", Out: "tests-01.out", Points: 30},
		api.SingleTest{In: "tests-02.inp", Out: "tests-02.out", Points: 70},
	}
	if diff := cmp.Diff(expectedTests, config.TestCases); diff != "" {
		t.Errorf("test cases do not match expected, diff: %s", diff)
	}
	expectedPretests := []api.TestItem{
		api.SingleTest{In: "pretests-01.inp", Out: "pretests-01.out", Points: 1},
	}
	if diff := cmp.Diff(expectedPretests, config.PretestTestCases); diff != "" {
		t.Errorf("pretest cases do not match expected, diff: %s", diff)
	}

	archive, err := zip.OpenReader(filepath.Join(ctx.TempDir, config.Archive))
	if err != nil {
		t.Fatalf("could not open test archive %s: %v", config.Archive, err)
	}
	defer archive.Close()
	stored := map[string]bool{}
	for _, member := range archive.File {
		stored[member.Name] = true
	}
	for _, name := range []string{"tests-01.inp", "tests-01.out", "tests-02.inp", "tests-02.out", "pretests-01.inp", "pretests-01.out"} {
		if !stored[name] {
			t.Errorf("test archive is missing member %s", name)
		}
	}
}

func TestParseTestsRequiresTestsTestset(t *testing.T) {
	members := testFiles("pretests", 1)
	members["problem.xml"] = descriptorWithJudging(testsetXML("pretests", `<test points="1"/>`, ""))
	ctx := testContext(t, members)

	_, err := ParseTests(ctx)
	if err == nil || !api.IsImportError(err) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if err.Error() != `testset "tests" is empty or missing` {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNormalizePoints(t *testing.T) {
	ctx := &Context{Logger: discardLogger()}
	items := []rawItem{{points: 0.5}, {points: 0.25}, {points: 1}}
	normalizePoints(ctx, items)
	expected := []float64{2, 1, 4}
	for i, item := range items {
		if item.points != expected[i] {
			t.Errorf("item %d: expected %v points, got %v", i, expected[i], item.points)
		}
	}
}

func TestNormalizePointsKeepsIntegers(t *testing.T) {
	ctx := &Context{Logger: discardLogger()}
	items := []rawItem{{points: 30}, {points: 70}}
	normalizePoints(ctx, items)
	if items[0].points != 30 || items[1].points != 70 {
		t.Errorf("integer points must not change, got %v and %v", items[0].points, items[1].points)
	}
}

func TestGCD(t *testing.T) {
	for _, tc := range []struct{ a, b, expected int }{
		{0, 5, 5},
		{50, 25, 25},
		{12, 18, 6},
		{-4, 6, 2},
	} {
		if got := gcd(tc.a, tc.b); got != tc.expected {
			t.Errorf("gcd(%d, %d): expected %d, got %d", tc.a, tc.b, tc.expected, got)
		}
	}
}

package api

// TestCase is a single input/output pair inside a batch.
type TestCase struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// TestItem is one entry of ProblemConfig.TestCases: either a SingleTest or
// a Batch. The concrete types carry their own JSON shape.
type TestItem interface {
	isTestItem()
}

// SingleTest is an individually scored test case.
type SingleTest struct {
	In     string `json:"in"`
	Out    string `json:"out"`
	Points int    `json:"points"`
}

// Batch is a group of tests scored all-or-nothing. Dependencies are indices
// of earlier items in the same test case list.
type Batch struct {
	Batched      []TestCase `json:"batched"`
	Points       int        `json:"points"`
	Dependencies []int      `json:"dependencies,omitempty"`
}

func (SingleTest) isTestItem() {}
func (Batch) isTestItem()      {}

// CheckerArgs describes how the judge runs a testlib checker.
type CheckerArgs struct {
	Files    []string `json:"files"`
	Feedback bool     `json:"feedback"`
	Lang     string   `json:"lang"`
	Type     string   `json:"type"`
}

// Checker is the bridged checker entry of the problem configuration.
type Checker struct {
	Args CheckerArgs `json:"args"`
	Name string      `json:"name"`
}

// Grader describes an interactor. It shares the checker's argument shape
// but lives at the top level of the configuration.
type Grader struct {
	Files    []string `json:"files"`
	Feedback bool     `json:"feedback"`
	Lang     string   `json:"lang"`
	Type     string   `json:"type"`
}

const (
	// CheckerLang is the language every bridged checker and interactor is
	// compiled as.
	CheckerLang = "CPP20"
	// CheckerType marks testlib-based checkers and interactors.
	CheckerType = "testlib"
	// CheckerName is the judge-side checker implementation that bridges
	// testlib binaries.
	CheckerName = "bridged"
)

// NewChecker returns a bridged testlib checker over the given files.
func NewChecker(files []string, feedback bool) *Checker {
	return &Checker{
		Args: CheckerArgs{Files: files, Feedback: feedback, Lang: CheckerLang, Type: CheckerType},
		Name: CheckerName,
	}
}

// NewGrader returns a testlib interactor over the given files.
func NewGrader(files []string, feedback bool) *Grader {
	return &Grader{Files: files, Feedback: feedback, Lang: CheckerLang, Type: CheckerType}
}

// ProblemConfig is the manifest persisted as init.yml next to the test
// archive. It is serialized as JSON with null fields omitted.
type ProblemConfig struct {
	Archive          string     `json:"archive"`
	TestCases        []TestItem `json:"test_cases"`
	PretestTestCases []TestItem `json:"pretest_test_cases,omitempty"`
	Checker          *Checker   `json:"checker,omitempty"`
	Interactive      *Grader    `json:"interactive,omitempty"`
	Unbuffered       bool       `json:"unbuffered,omitempty"`
	Hints            []string   `json:"hints,omitempty"`
}

// Files returns the supporting source files referenced by the checker or
// interactor, whichever is present.
func (c *ProblemConfig) Files() []string {
	var files []string
	if c.Checker != nil {
		files = append(files, c.Checker.Args.Files...)
	}
	if c.Interactive != nil {
		files = append(files, c.Interactive.Files...)
	}
	return files
}

// Statement is one converted problem statement. Language is empty for the
// anonymous placeholder emitted when a package carries no statements.
type Statement struct {
	Name        string
	Description string
	Language    string
	Tutorial    string
}

// ProblemProperties is everything the assembler writes to the judge's
// problem row.
type ProblemProperties struct {
	Code         string
	Name         string
	TimeLimit    float64 // seconds
	MemoryLimit  int64   // KB
	Description  string
	Partial      bool
	Points       float64
	Group        string
	Translations []Statement
	Tutorial     string
}

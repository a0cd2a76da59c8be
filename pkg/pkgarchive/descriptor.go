package pkgarchive

// Descriptor types for problem.xml. Only the parts the importer consumes
// are modeled; unknown elements are ignored by the XML decoder.

// Problem is the root element of problem.xml.
type Problem struct {
	Revision   int            `xml:"revision,attr"`
	ShortName  string         `xml:"short-name,attr"`
	Names      []Name         `xml:"names>name"`
	Statements []StatementRef `xml:"statements>statement"`
	Judging    Judging        `xml:"judging"`
	Checker    *CheckerRef    `xml:"assets>checker"`
	Interactor *InteractorRef `xml:"assets>interactor"`
	Solutions  []SolutionRef  `xml:"assets>solutions>solution"`
	Tags       []Tag          `xml:"tags>tag"`
}

type Name struct {
	Language string `xml:"language,attr"`
	Value    string `xml:"value,attr"`
}

// StatementRef points at one statement folder. Only statements of type
// application/x-tex are importable.
type StatementRef struct {
	Language string `xml:"language,attr"`
	Type     string `xml:"type,attr"`
	Path     string `xml:"path,attr"`
}

// StatementTypeTeX is the statement MIME type the importer understands.
const StatementTypeTeX = "application/x-tex"

type Judging struct {
	Testsets []Testset `xml:"testset"`
}

type Testset struct {
	Name              string  `xml:"name,attr"`
	TimeLimitMS       int64   `xml:"time-limit"`
	MemoryLimitBytes  int64   `xml:"memory-limit"`
	InputPathPattern  string  `xml:"input-path-pattern"`
	AnswerPathPattern string  `xml:"answer-path-pattern"`
	Tests             []Test  `xml:"tests>test"`
	Groups            *Groups `xml:"groups"`
}

// GroupsEnabled reports whether the testset declares a groups block. The
// presence of the block changes scoring semantics even when it is empty.
func (t *Testset) GroupsEnabled() bool {
	return t.Groups != nil
}

type Test struct {
	Method string  `xml:"method,attr"`
	Sample bool    `xml:"sample,attr"`
	Points float64 `xml:"points,attr"`
	Group  string  `xml:"group,attr"`
}

type Groups struct {
	Groups []Group `xml:"group"`
}

// Points policies recognized in group blocks.
const (
	PolicyCompleteGroup = "complete-group"
	PolicyEachTest      = "each-test"
)

type Group struct {
	Name         string       `xml:"name,attr"`
	Points       float64      `xml:"points,attr"`
	PointsPolicy string       `xml:"points-policy,attr"`
	Dependencies []Dependency `xml:"dependencies>dependency"`
}

type Dependency struct {
	Group string `xml:"group,attr"`
}

type CheckerRef struct {
	Type   string     `xml:"type,attr"`
	Source *SourceRef `xml:"source"`
}

type InteractorRef struct {
	Source *SourceRef `xml:"source"`
}

type SolutionRef struct {
	Tag    string     `xml:"tag,attr"`
	Source *SourceRef `xml:"source"`
}

type SourceRef struct {
	Path string `xml:"path,attr"`
	Type string `xml:"type,attr"`
}

type Tag struct {
	Value string `xml:"value,attr"`
}

// Testset returns the testset with the given name, or nil.
func (p *Problem) Testset(name string) *Testset {
	for i := range p.Judging.Testsets {
		if p.Judging.Testsets[i].Name == name {
			return &p.Judging.Testsets[i]
		}
	}
	return nil
}

// NameFor returns the problem name declared for the given statement
// language, or empty.
func (p *Problem) NameFor(language string) string {
	for _, name := range p.Names {
		if name.Language == language {
			return name.Value
		}
	}
	return ""
}

// AnyName returns the first declared problem name, or empty.
func (p *Problem) AnyName() string {
	if len(p.Names) == 0 {
		return ""
	}
	return p.Names[0].Value
}

// MainSolution returns the solution tagged main, or nil.
func (p *Problem) MainSolution() *SolutionRef {
	for i := range p.Solutions {
		if p.Solutions[i].Tag == "main" {
			return &p.Solutions[i]
		}
	}
	return nil
}

// HasTag reports whether the descriptor carries a tag with the given value.
func (p *Problem) HasTag(value string) bool {
	for _, tag := range p.Tags {
		if tag.Value == value {
			return true
		}
	}
	return false
}

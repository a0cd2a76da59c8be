package statement

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
)

// polygonToSiteLang maps Polygon statement languages to the judge's
// language codes. Unknown languages are retained as-is with a warning.
var polygonToSiteLang = map[string]string{
	"catalan":    "ca",
	"german":     "de",
	"greek":      "el",
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"croatian":   "hr",
	"hungarian":  "hu",
	"japanese":   "ja",
	"kazakh":     "kk",
	"korean":     "ko",
	"portuguese": "pt",
	"romanian":   "ro",
	"russian":    "ru",
	"serbian":    "sr-latn",
	"turkish":    "tr",
	"vietnamese": "vi",
	"chinese":    "zh-hans",
}

// headings are the locale-translated section titles appended to converted
// statements.
type headings struct {
	Input       string
	Output      string
	Interaction string
	Scoring     string
	Samples     string
	SampleIn    string // takes the 1-based sample number
	SampleOut   string
	Notes       string
}

var headingsByLang = map[string]headings{
	"en": {
		Input:       "Input",
		Output:      "Output",
		Interaction: "Interaction",
		Scoring:     "Scoring",
		Samples:     "Samples",
		SampleIn:    "Input %d",
		SampleOut:   "Output %d",
		Notes:       "Notes",
	},
	"ru": {
		Input:       "Входные данные",
		Output:      "Выходные данные",
		Interaction: "Протокол взаимодействия",
		Scoring:     "Система оценки",
		Samples:     "Примеры",
		SampleIn:    "Входные данные %d",
		SampleOut:   "Выходные данные %d",
		Notes:       "Примечание",
	},
}

func headingsFor(language string) headings {
	if h, ok := headingsByLang[language]; ok {
		return h
	}
	return headingsByLang["en"]
}

// properties mirrors the problem-properties.json file of one statement
// folder.
type properties struct {
	Legend      string `json:"legend"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Interaction string `json:"interaction"`
	Scoring     string `json:"scoring"`
	SampleTests []struct {
		Input  string `json:"input"`
		Output string `json:"output"`
	} `json:"sampleTests"`
	Notes    string `json:"notes"`
	Tutorial string `json:"tutorial"`
}

// Options are the collaborators statement parsing needs.
type Options struct {
	Archive   *pkgarchive.Archive
	Converter Converter
	Images    *ImageIngester
	Logger    *logrus.Entry
}

// Parse converts every LaTeX statement of the package. Packages without
// statements yield a single placeholder named from the descriptor.
func Parse(ctx context.Context, opts Options) ([]api.Statement, error) {
	descriptor := opts.Archive.Problem

	var blocks []pkgarchive.StatementRef
	for _, block := range descriptor.Statements {
		if block.Type == pkgarchive.StatementTypeTeX {
			blocks = append(blocks, block)
		}
	}

	if len(blocks) == 0 {
		opts.Logger.Warn("Statement not found, skipping...")
		name := descriptor.AnyName()
		if name == "" {
			name = "Unnamed"
		}
		return []api.Statement{{Name: name}}, nil
	}

	var statements []api.Statement
	existing := map[string]bool{}

	for _, block := range blocks {
		originLanguage := block.Language
		if originLanguage == "" {
			originLanguage = "unknown"
		}
		language, known := polygonToSiteLang[originLanguage]
		if !known {
			language = originLanguage
			opts.Logger.WithField("language", originLanguage).
				Warn("Unknown language. Statement will be saved, but it's never to be shown")
		}

		if existing[language] {
			opts.Logger.WithField("language", language).Warn("Duplicate language, skipping...")
			continue
		}
		existing[language] = true

		opts.Logger.WithField("language", language).Info("Adding statement")

		folder := path.Dir(block.Path)
		propsPath := path.Join(folder, "problem-properties.json")
		if !opts.Archive.Has(propsPath) {
			return nil, api.ImportErrorf("problem-properties.json not found at path %s", propsPath)
		}
		raw, err := opts.Archive.Read(propsPath)
		if err != nil {
			return nil, err
		}
		props := properties{}
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, api.ImportErrorf("malformed %s: %v", propsPath, err)
		}

		description, err := buildDescription(ctx, opts.Converter, language, &props)
		if err != nil {
			return nil, err
		}
		description, err = opts.Images.Process(folder, description)
		if err != nil {
			return nil, err
		}

		tutorial := ""
		if props.Tutorial != "" {
			tutorial, err = opts.Converter.TeXToMarkdown(ctx, props.Tutorial)
			if err != nil {
				return nil, err
			}
			tutorial, err = opts.Images.Process(folder, tutorial)
			if err != nil {
				return nil, err
			}
		}

		statements = append(statements, api.Statement{
			Language:    language,
			Name:        descriptor.NameFor(originLanguage),
			Description: description,
			Tutorial:    tutorial,
		})
	}

	return statements, nil
}

func header(text string, level int) string {
	return fmt.Sprintf("\n%s %s\n\n", strings.Repeat("#", level), text)
}

// buildDescription renders the statement sections in order, with headings
// localized to the statement's language.
func buildDescription(ctx context.Context, converter Converter, language string, props *properties) (string, error) {
	h := headingsFor(language)

	description, err := converter.TeXToMarkdown(ctx, props.Legend)
	if err != nil {
		return "", err
	}

	sections := []struct {
		heading string
		tex     string
	}{
		{h.Input, props.Input},
		{h.Output, props.Output},
		{h.Interaction, props.Interaction},
		{h.Scoring, props.Scoring},
	}
	for _, section := range sections {
		if section.tex == "" {
			continue
		}
		md, err := converter.TeXToMarkdown(ctx, section.tex)
		if err != nil {
			return "", err
		}
		description += header(section.heading, 2) + md
	}

	if len(props.SampleTests) > 0 {
		description += header(h.Samples, 2)
		for i, sample := range props.SampleTests {
			description += header(fmt.Sprintf(h.SampleIn, i+1), 3)
			description += "```\n" + strings.TrimSpace(sample.Input) + "\n```\n"
			description += header(fmt.Sprintf(h.SampleOut, i+1), 3)
			description += "```\n" + strings.TrimSpace(sample.Output) + "\n```\n"
		}
	}

	if props.Notes != "" {
		md, err := converter.TeXToMarkdown(ctx, props.Notes)
		if err != nil {
			return "", err
		}
		description += header(h.Notes, 2) + md
	}

	return description, nil
}

package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acmoj/polygon-importer/pkg/importer"
)

// SuggestCode derives an unused problem code from a Polygon problem name:
// the lowercased alphanumeric characters of the name, with a numeric suffix
// when the plain code is taken. taken reports whether a code is already in
// use.
func SuggestCode(name string, taken func(code string) (bool, error)) (string, error) {
	var base strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			base.WriteRune(r)
		}
	}
	code := base.String()
	if code == "" {
		code = "problem"
	}
	// leave room for a two-digit suffix
	if len(code) > importer.MaxCodeLength-2 {
		code = code[:importer.MaxCodeLength-2]
	}

	if used, err := taken(code); err != nil {
		return "", err
	} else if !used {
		return code, nil
	}
	for i := 1; i <= 99; i++ {
		candidate := code + strconv.Itoa(i)
		if used, err := taken(candidate); err != nil {
			return "", err
		} else if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find an unused code for %q", name)
}

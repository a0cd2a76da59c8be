package importer

import (
	"path/filepath"
	"strings"

	"github.com/acmoj/polygon-importer/pkg/api"
)

// TestlibHeader is the helper header every checker and interactor is
// compiled against; packages always carry it.
const TestlibHeader = "files/testlib.h"

// hideCheckerCommentTag suppresses checker feedback on the judge when the
// problem author tags the problem with it in Polygon.
const hideCheckerCommentTag = "hide_checker_comment"

// ParseAssets stages the checker or interactor into the scratch directory
// and records it in the configuration. Exactly one of the two ends up set.
func ParseAssets(ctx *Context, config *api.ProblemConfig) error {
	descriptor := ctx.Package.Problem
	feedback := !descriptor.HasTag(hideCheckerCommentTag)

	if interactor := descriptor.Interactor; interactor != nil {
		ctx.Logger.Info("Problem is interactive")

		if interactor.Source == nil {
			return api.ImportErrorf("interactor has no source")
		}
		path := interactor.Source.Path
		if !strings.HasSuffix(strings.ToLower(path), ".cpp") {
			return api.ImportErrorf("only C++ interactors are supported")
		}

		if err := ctx.Package.Extract(TestlibHeader, filepath.Join(ctx.TempDir, "testlib.h")); err != nil {
			return err
		}
		if err := ctx.Package.Extract(path, filepath.Join(ctx.TempDir, "interactor.cpp")); err != nil {
			return err
		}

		config.Interactive = api.NewGrader([]string{"interactor.cpp", "testlib.h"}, feedback)
		config.Unbuffered = true

		ctx.Logger.Warn("The judge does not support checker and interactor at the same time")
		ctx.Logger.Info("Your checker should ALWAYS quitf(_ok), all checks should be made in the interactor")
		return nil
	}

	ctx.Logger.Info("Problem is non-interactive, adding checker")

	checker := descriptor.Checker
	if checker == nil || checker.Type != api.CheckerType || checker.Source == nil {
		return api.ImportErrorf("checker is missing or not well-formed")
	}
	path := checker.Source.Path
	if !strings.HasSuffix(strings.ToLower(path), ".cpp") {
		return api.ImportErrorf("only C++ checkers are supported")
	}

	if err := ctx.Package.Extract(TestlibHeader, filepath.Join(ctx.TempDir, "testlib.h")); err != nil {
		return err
	}
	if err := ctx.Package.Extract(path, filepath.Join(ctx.TempDir, "checker.cpp")); err != nil {
		return err
	}

	config.Checker = api.NewChecker([]string{"checker.cpp", "testlib.h"}, feedback)
	return nil
}

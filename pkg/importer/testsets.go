package importer

import (
	"archive/zip"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
)

// rawItem is a test case list entry before points normalization.
type rawItem struct {
	single       *api.TestCase
	batched      []api.TestCase
	dependencies []int
	points       float64
}

// parseTestset extracts one named testset into the test archive and
// returns its items. A missing or empty testset returns nil.
func parseTestset(ctx *Context, storage *zip.Writer, name string) ([]api.TestItem, error) {
	testset := ctx.Package.Problem.Testset(name)
	if testset == nil || len(testset.Tests) == 0 {
		return nil, nil
	}

	ctx.Logger.WithField("testset", name).Info("Processing testset")

	// Batches are complete-group groups in declaration order; the name map
	// resolves dependency references to 1-based batch indices.
	groupNameToID := map[string]int{}
	var batches []rawItem
	groupsEnabled := testset.GroupsEnabled()
	if groupsEnabled {
		for _, group := range testset.Groups.Groups {
			policy := group.PointsPolicy
			if policy != pkgarchive.PolicyCompleteGroup && policy != pkgarchive.PolicyEachTest {
				return nil, api.ImportErrorf("group %s has unknown points policy %q", group.Name, policy)
			}

			if policy == pkgarchive.PolicyEachTest {
				if len(group.Dependencies) > 0 {
					return nil, api.ImportErrorf("dependencies only supported for groups with complete-group policy")
				}
				continue
			}

			var dependencies []int
			for _, dep := range group.Dependencies {
				id, ok := groupNameToID[dep.Group]
				if !ok {
					return nil, api.ImportErrorf(
						"group %s depends on group %s that does not exist or has each-test points policy",
						group.Name, dep.Group,
					)
				}
				dependencies = append(dependencies, id)
			}

			batches = append(batches, rawItem{points: group.Points, dependencies: dependencies})
			groupNameToID[group.Name] = len(batches)
		}
	}

	var ungrouped []rawItem
	for idx, test := range testset.Tests {
		number := idx + 1
		inputPath := fmt.Sprintf(testset.InputPathPattern, number)
		outputPath := fmt.Sprintf(testset.AnswerPathPattern, number)

		if !ctx.Package.Has(inputPath) {
			return nil, api.ImportErrorf("input file %s for test %d is missing", inputPath, number)
		}
		if !ctx.Package.Has(outputPath) {
			return nil, api.ImportErrorf("output file %s for test %d is missing", outputPath, number)
		}

		record := api.TestCase{
			In:  fmt.Sprintf("%s-%02d.inp", name, number),
			Out: fmt.Sprintf("%s-%02d.out", name, number),
		}
		if err := copyMember(ctx.Package, storage, inputPath, record.In); err != nil {
			return nil, err
		}
		if err := copyMember(ctx.Package, storage, outputPath, record.Out); err != nil {
			return nil, err
		}

		if id, ok := groupNameToID[test.Group]; ok {
			batch := &batches[id-1]
			batch.batched = append(batch.batched, record)
			continue
		}
		if groupsEnabled && test.Points == 0 {
			return nil, api.ImportErrorf("all tests in groups with each-test policy should be scored")
		}
		single := record
		ungrouped = append(ungrouped, rawItem{single: &single, points: test.Points})
	}

	items := append(ungrouped, batches...)
	normalizePoints(ctx, items)

	testCount := 0
	for _, item := range items {
		if item.single != nil {
			testCount++
		} else {
			testCount += len(item.batched)
		}
	}
	ctx.Logger.WithField("tests", testCount).WithField("batches", len(batches)).Info("Parsed testset")

	result := make([]api.TestItem, 0, len(items))
	for _, item := range items {
		points := int(item.points)
		if item.single != nil {
			result = append(result, api.SingleTest{In: item.single.In, Out: item.single.Out, Points: points})
		} else {
			result = append(result, api.Batch{Batched: item.batched, Points: points, Dependencies: item.dependencies})
		}
	}
	return result, nil
}

// normalizePoints guarantees integer points while preserving relative
// weights: if any value is fractional, everything is scaled by 100 and
// divided by the common gcd.
func normalizePoints(ctx *Context, items []rawItem) {
	fractional := false
	for _, item := range items {
		if item.points != math.Trunc(item.points) {
			fractional = true
			break
		}
	}
	if !fractional {
		return
	}

	ctx.Logger.Warn("Floating-point test points are not supported, normalizing to integers")
	divisor := 0
	for _, item := range items {
		divisor = gcd(divisor, int(math.Round(item.points*100)))
	}
	if divisor == 0 {
		divisor = 1
	}
	for i := range items {
		items[i].points = float64(int(math.Round(items[i].points*100)) / divisor)
	}
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func copyMember(archive *pkgarchive.Archive, storage *zip.Writer, member, name string) error {
	content, err := archive.Read(member)
	if err != nil {
		return err
	}
	dst, err := storage.Create(name)
	if err != nil {
		return fmt.Errorf("could not add %s to test archive: %w", name, err)
	}
	if _, err := dst.Write(content); err != nil {
		return fmt.Errorf("could not write %s to test archive: %w", name, err)
	}
	return nil
}

// ParseTests extracts the mandatory tests testset and the optional
// pretests testset into a fresh test archive in the job's scratch
// directory, and returns the problem configuration skeleton.
func ParseTests(ctx *Context) (*api.ProblemConfig, error) {
	archiveName := fmt.Sprintf("tests-r%d-%d.zip", ctx.Package.Problem.Revision, time.Now().Unix())
	ctx.Logger.WithField("archive", archiveName).Info("Storing tests")

	archiveFile, err := os.Create(filepath.Join(ctx.TempDir, archiveName))
	if err != nil {
		return nil, fmt.Errorf("could not create test archive: %w", err)
	}
	defer archiveFile.Close()
	storage := zip.NewWriter(archiveFile)

	pretests, err := parseTestset(ctx, storage, "pretests")
	if err != nil {
		return nil, err
	}
	tests, err := parseTestset(ctx, storage, "tests")
	if err != nil {
		return nil, err
	}
	if tests == nil {
		return nil, api.ImportErrorf(`testset "tests" is empty or missing`)
	}

	for _, testset := range ctx.Package.Problem.Judging.Testsets {
		if testset.Name != "tests" && testset.Name != "pretests" {
			ctx.Logger.WithField("testset", testset.Name).Warn("Unsupported testset, skipping...")
		}
	}

	if err := storage.Close(); err != nil {
		return nil, fmt.Errorf("could not finalize test archive: %w", err)
	}

	return &api.ProblemConfig{
		Archive:          archiveName,
		TestCases:        tests,
		PretestTestCases: pretests,
	}, nil
}

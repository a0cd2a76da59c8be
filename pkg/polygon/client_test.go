package polygon

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/acmoj/polygon-importer/pkg/api"
	"github.com/acmoj/polygon-importer/pkg/testhelper"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient("key", "secret", WithBaseURL(server.URL)).(*client)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	c.randHex = func(int) string { return "abcdef" }
	return c
}

func TestSigning(t *testing.T) {
	var query map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		fmt.Fprint(w, `{"status":"OK","result":[]}`)
	})

	_, err := c.GetPackages(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := query["apiKey"]; len(got) != 1 || got[0] != "key" {
		t.Errorf("expected apiKey=key, got %v", got)
	}
	if got := query["time"]; len(got) != 1 || got[0] != "1700000000" {
		t.Errorf("expected time=1700000000, got %v", got)
	}

	source := "abcdef/problem.packages?apiKey=key&problemId=42&time=1700000000#secret"
	digest := sha512.Sum512([]byte(source))
	expected := "abcdef" + hex.EncodeToString(digest[:])
	if got := query["apiSig"]; len(got) != 1 || got[0] != expected {
		t.Errorf("expected apiSig=%s, got %v", expected, got)
	}
}

func TestGetProblem(t *testing.T) {
	testCases := []struct {
		name          string
		response      string
		statusCode    int
		expected      *Problem
		expectedError error
	}{
		{
			name:     "single problem",
			response: `{"status":"OK","result":[{"id":42,"owner":"tourist","name":"aplusb","revision":7}]}`,
			expected: &Problem{ID: 42, Owner: "tourist", Name: "aplusb", Revision: 7},
		},
		{
			name:          "no problems",
			response:      `{"status":"OK","result":[]}`,
			expectedError: fmt.Errorf("problem 42 does not exist or the configured account has no access to it"),
		},
		{
			name:          "multiple problems",
			response:      `{"status":"OK","result":[{"id":42},{"id":43}]}`,
			expectedError: fmt.Errorf("invalid polygon response: multiple problems for ID 42"),
		},
		{
			name:          "failed status",
			response:      `{"status":"FAILED","comment":"apiKey is invalid"}`,
			expectedError: fmt.Errorf("polygon request failed: apiKey is invalid"),
		},
		{
			name:          "not json",
			response:      `<html>not found</html>`,
			statusCode:    http.StatusNotFound,
			expectedError: fmt.Errorf("polygon responded with code 404: <html>not found</html>"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.statusCode != 0 {
					w.WriteHeader(tc.statusCode)
				}
				fmt.Fprint(w, tc.response)
			})
			actual, actualError := c.GetProblem(context.Background(), 42)
			if diff := cmp.Diff(tc.expected, actual); diff != "" {
				t.Errorf("actual does not match expected, diff: %s", diff)
			}
			if diff := cmp.Diff(tc.expectedError, actualError, testhelper.EquateErrorMessage); diff != "" {
				t.Errorf("actual error does not match expected, diff: %s", diff)
			}
			if actualError != nil && !api.IsImportError(actualError) {
				t.Errorf("expected a domain error, got %T", actualError)
			}
		})
	}
}

func TestSavePackage(t *testing.T) {
	payload := make([]byte, 40*1024) // larger than one download chunk
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("packageId"); got != "7" {
			t.Errorf("expected packageId=7, got %s", got)
		}
		if got := r.URL.Query().Get("type"); got != "linux" {
			t.Errorf("expected type=linux, got %s", got)
		}
		w.Write(payload)
	})

	destination := filepath.Join(t.TempDir(), "archive.zip")
	if err := c.SavePackage(context.Background(), 42, 7, destination, PackageTypeLinux); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	written, err := os.ReadFile(destination)
	if err != nil {
		t.Fatalf("could not read downloaded package: %v", err)
	}
	if diff := cmp.Diff(payload, written); diff != "" {
		t.Errorf("downloaded package does not match payload, diff: %s", diff)
	}
}

func TestSavePackageBadStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := c.SavePackage(context.Background(), 42, 7, filepath.Join(t.TempDir(), "archive.zip"), PackageTypeLinux)
	if err == nil || !api.IsImportError(err) {
		t.Fatalf("expected a domain error, got %v", err)
	}
}

func TestLatestReadyPackage(t *testing.T) {
	testCases := []struct {
		name          string
		packages      []Package
		expected      *Package
		expectedError error
	}{
		{
			name: "newest ready package wins",
			packages: []Package{
				{ID: 1, CreationTimeSeconds: 100, State: PackageStateReady},
				{ID: 2, CreationTimeSeconds: 300, State: PackageStateReady},
				{ID: 3, CreationTimeSeconds: 200, State: PackageStateReady},
			},
			expected: &Package{ID: 2, CreationTimeSeconds: 300, State: PackageStateReady},
		},
		{
			name: "latest package still building",
			packages: []Package{
				{ID: 1, CreationTimeSeconds: 100, State: PackageStateReady},
				{ID: 2, CreationTimeSeconds: 300, State: "PENDING"},
			},
			expectedError: fmt.Errorf("latest package 2 is in state PENDING, not READY; rebuild the package in Polygon"),
		},
		{
			name:          "no packages",
			expectedError: fmt.Errorf("problem has no packages; commit your changes and build a package in Polygon"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, actualError := LatestReadyPackage(tc.packages)
			if diff := cmp.Diff(tc.expected, actual); diff != "" {
				t.Errorf("actual does not match expected, diff: %s", diff)
			}
			if diff := cmp.Diff(tc.expectedError, actualError, testhelper.EquateErrorMessage); diff != "" {
				t.Errorf("actual error does not match expected, diff: %s", diff)
			}
		})
	}
}

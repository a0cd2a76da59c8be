// Package polygon is a client for the Codeforces Polygon problem API.
package polygon

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/api"
)

// DefaultBaseURL is the production Polygon API endpoint.
const DefaultBaseURL = "https://polygon.codeforces.com/api"

// downloads are streamed to disk in chunks of this size
const downloadChunkSize = 16 * 1024

// Client talks to the Polygon API on behalf of one configured account.
type Client interface {
	// GetProblem returns the problem with the given id. Unknown problems and
	// problems the account cannot see are domain errors.
	GetProblem(ctx context.Context, problemID int) (*Problem, error)
	// GetPackages lists the built packages of a problem.
	GetPackages(ctx context.Context, problemID int) ([]Package, error)
	// SavePackage streams the package archive of the given type to destination.
	SavePackage(ctx context.Context, problemID, packageID int, destination, packageType string) error
}

type client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	now       func() time.Time
	randHex   func(bytes int) string
}

// Option customizes a Client.
type Option func(*client)

// WithBaseURL points the client at a non-production endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// NewClient creates a Client signing requests with the given credentials.
func NewClient(apiKey, apiSecret string, opts ...Option) Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.Logger = adapter{}
	c := &client{
		baseURL:   DefaultBaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    retryClient.StandardClient(),
		now:       time.Now,
		randHex:   randHex,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// adapter exposes logrus as the leveled logger retryablehttp expects.
type adapter struct{}

func (a adapter) format(s string, i ...interface{}) string {
	builder := strings.Builder{}
	builder.WriteString(s)
	for _, x := range i {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%v", x))
	}
	return builder.String()
}

func (a adapter) Error(s string, i ...interface{}) { logrus.Error(a.format(s, i...)) }
func (a adapter) Info(s string, i ...interface{})  { logrus.Info(a.format(s, i...)) }
func (a adapter) Debug(s string, i ...interface{}) { logrus.Debug(a.format(s, i...)) }
func (a adapter) Warn(s string, i ...interface{})  { logrus.Warn(a.format(s, i...)) }

var _ retryablehttp.LeveledLogger = adapter{}

func randHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// sign adds the time, apiKey and apiSig parameters required by the Polygon
// API. The signature is rand + sha512(rand/method?sortedParams#secret).
func (c *client) sign(method string, params map[string]string) url.Values {
	signed := url.Values{}
	for k, v := range params {
		signed.Set(k, v)
	}
	signed.Set("time", strconv.FormatInt(c.now().Unix(), 10))
	signed.Set("apiKey", c.apiKey)

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+signed.Get(k))
	}

	prefix := c.randHex(3)
	source := prefix + "/" + method + "?" + strings.Join(pairs, "&") + "#" + c.apiSecret
	digest := sha512.Sum512([]byte(source))
	signed.Set("apiSig", prefix+hex.EncodeToString(digest[:]))

	return signed
}

func (c *client) call(ctx context.Context, method string, params map[string]string) (*http.Response, error) {
	requestURL := c.baseURL + "/" + method + "?" + c.sign(method, params).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request for %s: %w", method, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to polygon failed: %w", err)
	}
	return resp, nil
}

// envelope is the JSON wrapper around every API response.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

func (c *client) callJSON(ctx context.Context, method string, params map[string]string, result interface{}) error {
	resp, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read polygon response: %w", err)
	}

	response := envelope{}
	if err := json.Unmarshal(body, &response); err != nil || response.Status == "" {
		return api.ImportErrorf("polygon responded with code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if response.Status != "OK" {
		return api.ImportErrorf("polygon request failed: %s", response.Comment)
	}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return api.ImportErrorf("malformed polygon result for %s: %v", method, err)
	}
	return nil
}

func (c *client) GetProblem(ctx context.Context, problemID int) (*Problem, error) {
	var problems []Problem
	if err := c.callJSON(ctx, "problems.list", map[string]string{"id": strconv.Itoa(problemID)}, &problems); err != nil {
		return nil, err
	}
	if len(problems) == 0 {
		return nil, api.ImportErrorf("problem %d does not exist or the configured account has no access to it", problemID)
	}
	if len(problems) > 1 {
		return nil, api.ImportErrorf("invalid polygon response: multiple problems for ID %d", problemID)
	}
	return &problems[0], nil
}

func (c *client) GetPackages(ctx context.Context, problemID int) ([]Package, error) {
	var packages []Package
	if err := c.callJSON(ctx, "problem.packages", map[string]string{"problemId": strconv.Itoa(problemID)}, &packages); err != nil {
		return nil, err
	}
	return packages, nil
}

func (c *client) SavePackage(ctx context.Context, problemID, packageID int, destination, packageType string) error {
	resp, err := c.call(ctx, "problem.package", map[string]string{
		"problemId": strconv.Itoa(problemID),
		"packageId": strconv.Itoa(packageID),
		"type":      packageType,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return api.ImportErrorf("polygon returned unexpected status code %d for package %d", resp.StatusCode, packageID)
	}

	dst, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", destination, err)
	}
	defer dst.Close()

	if _, err := io.CopyBuffer(dst, resp.Body, make([]byte, downloadChunkSize)); err != nil {
		return fmt.Errorf("could not download package %d: %w", packageID, err)
	}
	return nil
}

// LatestReadyPackage picks the most recently built package and verifies it
// finished building.
func LatestReadyPackage(packages []Package) (*Package, error) {
	if len(packages) == 0 {
		return nil, api.ImportErrorf("problem has no packages; commit your changes and build a package in Polygon")
	}
	latest := packages[0]
	for _, pkg := range packages[1:] {
		if pkg.CreationTimeSeconds > latest.CreationTimeSeconds {
			latest = pkg
		}
	}
	if latest.State != PackageStateReady {
		return nil, api.ImportErrorf("latest package %d is in state %s, not %s; rebuild the package in Polygon", latest.ID, latest.State, PackageStateReady)
	}
	return &latest, nil
}

// Package document stores normalized PIT documents in an Elasticsearch index.
//
// One document exists per hgid and is addressed by it. Updates are a delete
// followed by an add and are not atomic; see UpdateDocument.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/apperrors"
)

// Options locates the index and its mapping file.
type Options struct {
	Host      string
	Port      int
	Index     string
	SchemaDir string

	// Refresh is passed to index and delete requests ("", "true" or
	// "wait_for").
	Refresh string
}

// Address returns the HTTP base URL of the backend.
func (o Options) Address() string {
	return "http://" + o.Host + ":" + strconv.Itoa(o.Port)
}

// MappingFile returns the path of the index settings and mappings document.
func (o Options) MappingFile() string {
	return filepath.Join(o.SchemaDir, "elasticsearch", "pit.json")
}

// NewClient creates an Elasticsearch client for opts. Transport-level retries
// are disabled; callers decide what to retry.
func NewClient(opts Options, username, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{opts.Address()},
		Username:     username,
		Password:     password,
		DisableRetry: true,
		Transport:    escapedPathTransport{base: http.DefaultTransport},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client for %s: %w", apperrors.ErrConfig, opts.Address(), err)
	}
	return client, nil
}

// Store provides index and document operations over an open client.
type Store struct {
	client *elasticsearch.Client
	opts   Options
	logger *zap.Logger
}

// NewStore creates a Store. If logger is nil, a no-op logger is used.
func NewStore(client *elasticsearch.Client, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		opts:   opts,
		logger: logger.Named("document"),
	}
}

// Response is the raw backend reply to a document request.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Result returns the "result" field of the reply ("created", "updated",
// "deleted", "not_found"), or "" if there is none.
func (r *Response) Result() string {
	if r == nil {
		return ""
	}
	var body struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return ""
	}
	return body.Result
}

// OK reports whether the reply has a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// NotFound reports whether the reply says the document did not exist.
func (r *Response) NotFound() bool {
	return r != nil && r.StatusCode == http.StatusNotFound
}

// TestConnection verifies the backend answers.
func (s *Store) TestConnection(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: could not connect to Elasticsearch at %s: %w", apperrors.ErrConnectivity, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("%w: could not connect to Elasticsearch at %s: status %d", apperrors.ErrConnectivity, s.opts.Address(), resp.StatusCode)
	}
	return nil
}

// CreateIndex creates the index with the settings and mappings read from the
// mapping file. The file is sent verbatim.
func (s *Store) CreateIndex(ctx context.Context) error {
	path := s.opts.MappingFile()
	mapping, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: unable to read mapping file %s: %w", apperrors.ErrConfig, path, err)
	}
	if !json.Valid(mapping) {
		return fmt.Errorf("%w: mapping file %s is not valid JSON", apperrors.ErrConfig, path)
	}

	s.logger.Info("Creating index",
		zap.String("index", s.opts.Index),
		zap.String("mapping_file", path))

	res, err := s.client.Indices.Create(s.opts.Index,
		s.client.Indices.Create.WithBody(bytes.NewReader(mapping)),
		s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: unable to send index creation request to %s: %w", apperrors.ErrConnectivity, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("%w: index creation at %s returned %d: %s", apperrors.ErrConnectivity, s.opts.Address(), resp.StatusCode, resp.Body)
	}

	return nil
}

// IndexExists probes the index mapping. A 404 error reply means the index is
// missing; a reply keyed by the index name means it exists. Anything else is
// ErrProtocol.
func (s *Store) IndexExists(ctx context.Context) (bool, error) {
	res, err := s.client.Indices.GetMapping(
		s.client.Indices.GetMapping.WithIndex(s.opts.Index),
		s.client.Indices.GetMapping.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: unable to poll index at %s: %w", apperrors.ErrConnectivity, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return false, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &obj); err != nil {
		return false, fmt.Errorf("%w: mapping probe returned non-JSON body: %s", apperrors.ErrProtocol, resp.Body)
	}

	if _, hasErr := obj["error"]; hasErr {
		var status int
		if raw, ok := obj["status"]; ok && json.Unmarshal(raw, &status) == nil && status == http.StatusNotFound {
			return false, nil
		}
	}
	if _, ok := obj[s.opts.Index]; ok {
		return true, nil
	}

	return false, fmt.Errorf("%w: unexpected reply while polling index %q: %s", apperrors.ErrProtocol, s.opts.Index, resp.Body)
}

// readResponse drains and closes the body of res.
func readResponse(res *esapi.Response) (*Response, error) {
	if res.Body == nil {
		return &Response{StatusCode: res.StatusCode}, nil
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read reply body: %w", apperrors.ErrConnectivity, err)
	}
	return &Response{StatusCode: res.StatusCode, Body: body}, nil
}

// escapedPathTransport sends pre-escaped path segments as written. esapi
// copies document IDs into URL.Path, so an escaped "pit%2F42" would otherwise
// go out as "pit%252F42".
type escapedPathTransport struct {
	base http.RoundTripper
}

func (t escapedPathTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.Contains(req.URL.Path, "%") {
		return t.base.RoundTrip(req)
	}
	unescaped, err := url.PathUnescape(req.URL.Path)
	if err != nil {
		return t.base.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.URL.RawPath = req.URL.Path
	out.URL.Path = unescaped
	return t.base.RoundTrip(out)
}

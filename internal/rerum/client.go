// Package rerum talks to the RERUM document store API.
package rerum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the page size used by QueryAll when none is configured.
	DefaultPageSize       = 100
	defaultRequestTimeout = 60 * time.Second
	maxErrorBodyBytes     = 2048
	contentTypeJSON       = "application/json; charset=utf-8"

	opQuery     = "query"
	opCreate    = "create"
	opOverwrite = "overwrite"
)

var (
	// ErrRequestFailed is matched by every RequestError.
	ErrRequestFailed = errors.New("rerum: store request failed")
	// ErrMissingIdentifier indicates the store response carried no identifier.
	ErrMissingIdentifier = errors.New("rerum: response missing identifier")
	// ErrInvalidClientConfig indicates the client cannot be constructed.
	ErrInvalidClientConfig = errors.New("rerum: invalid client config")

	errMissingBaseURL      = errors.New("base url is required")
	errOverwriteIdentifier = errors.New("overwrite payload requires @id")
)

// RequestError reports a non-success response from the document store.
type RequestError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rerum: %s request failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("rerum: %s request failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is lets errors.Is match ErrRequestFailed.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Document is a raw, loosely typed document-store record.
type Document = json.RawMessage

// Reference identifies a document written to the store.
type Reference struct {
	RemoteID string
}

// Config describes the dependencies of a Client.
type Config struct {
	BaseURL    string
	Token      string
	PageSize   int
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Client issues paginated queries and writes against the document store.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
	}, nil
}

// PageSize returns the page size used by QueryAll.
func (c *Client) PageSize() int {
	return c.pageSize
}

// QueryPage returns one page of documents matching filter.
func (c *Client) QueryPage(ctx context.Context, filter any, limit, skip int) ([]Document, error) {
	endpoint := fmt.Sprintf("%s/query?limit=%s&skip=%s", c.baseURL, strconv.Itoa(limit), strconv.Itoa(skip))
	body, err := c.send(ctx, opQuery, http.MethodPost, endpoint, filter, false)
	if err != nil {
		return nil, err
	}

	var documents []Document
	if err := json.Unmarshal(body, &documents); err != nil {
		return nil, fmt.Errorf("rerum: decode query page (skip=%d): %w", skip, err)
	}
	return documents, nil
}

// QueryAll pages through every document matching filter. A page shorter than
// the page size ends the walk; a failed page aborts it.
func (c *Client) QueryAll(ctx context.Context, filter any) ([]Document, error) {
	var all []Document
	for skip := 0; ; skip += c.pageSize {
		page, err := c.QueryPage(ctx, filter, c.pageSize, skip)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		c.logger.Debug("rerum page fetched",
			zap.Int("skip", skip),
			zap.Int("count", len(page)))
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// Create stores a new document and returns its assigned identifier.
func (c *Client) Create(ctx context.Context, payload map[string]any) (Reference, error) {
	body, err := c.send(ctx, opCreate, http.MethodPost, c.baseURL+"/create", payload, true)
	if err != nil {
		return Reference{}, err
	}
	return decodeReference(body)
}

// Overwrite replaces the document named by payload["@id"].
func (c *Client) Overwrite(ctx context.Context, payload map[string]any) (Reference, error) {
	remoteID, _ := payload["@id"].(string)
	if strings.TrimSpace(remoteID) == "" {
		return Reference{}, errOverwriteIdentifier
	}
	body, err := c.send(ctx, opOverwrite, http.MethodPut, c.baseURL+"/overwrite", payload, true)
	if err != nil {
		return Reference{}, err
	}
	reference, err := decodeReference(body)
	if errors.Is(err, ErrMissingIdentifier) {
		return Reference{RemoteID: remoteID}, nil
	}
	return reference, err
}

func (c *Client) send(ctx context.Context, operation, method, endpoint string, payload any, authorized bool) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("rerum: encode %s payload: %w", operation, err)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("rerum: build %s request: %w", operation, err)
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	request.Header.Set("Accept", "application/json")
	if authorized && c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("rerum: %s request: %w", operation, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("rerum: read %s response: %w", operation, err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		c.logger.Warn("rerum request rejected",
			zap.String("operation", operation),
			zap.Int("status", response.StatusCode))
		return nil, &RequestError{Operation: operation, StatusCode: response.StatusCode, Body: snippet}
	}
	return body, nil
}

func decodeReference(body []byte) (Reference, error) {
	var envelope struct {
		AtID string          `json:"@id"`
		ID   json.RawMessage `json:"id"`
		New  *struct {
			AtID string `json:"@id"`
		} `json:"new_obj_state"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Reference{}, fmt.Errorf("rerum: decode reference: %w", err)
	}
	if envelope.AtID != "" {
		return Reference{RemoteID: envelope.AtID}, nil
	}
	if envelope.New != nil && envelope.New.AtID != "" {
		return Reference{RemoteID: envelope.New.AtID}, nil
	}
	var plainID string
	if len(envelope.ID) > 0 && json.Unmarshal(envelope.ID, &plainID) == nil && plainID != "" {
		return Reference{RemoteID: plainID}, nil
	}
	return Reference{}, ErrMissingIdentifier
}

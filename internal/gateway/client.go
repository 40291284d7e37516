// Package gateway reads and writes the remote JSON documents that hold
// each collection's data of record, plus the read-only documents other
// users share.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry on the next trigger.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxDocumentBytes caps response body reads. Collections are JSON
	// lists of small records; anything larger is not one of ours.
	maxDocumentBytes = 32 * 1024 * 1024
)

// TokenSource supplies the bearer credential for each request. Refresh
// is the source's concern; an empty token means not authenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same credential.
type StaticToken string

// Token returns the credential.
func (t StaticToken) Token() string { return string(t) }

// Client talks to the remote storage REST surface. Owned documents live
// at {base}/folders/{folder}/files/{name}; shared snapshots live at
// {base}/shares/{shareID}.
type Client struct {
	httpClient *http.Client
	baseURL    string
	folder     string
	tokens     TokenSource
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the bearer credential is never
// sent to a third party.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a gateway client. If httpClient is nil, a client with
// a 30-second timeout and same-host redirect policy is created.
func NewClient(baseURL, folder string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		folder:     folder,
		tokens:     tokens,
	}
}

// Authenticated reports whether a credential is available.
func (c *Client) Authenticated() bool {
	return c.tokens != nil && c.tokens.Token() != ""
}

func (c *Client) fileURL(name string) string {
	return c.baseURL + "/folders/" + url.PathEscape(norm.NFC.String(c.folder)) +
		"/files/" + url.PathEscape(norm.NFC.String(name))
}

func (c *Client) shareURL(shareID string) string {
	return c.baseURL + "/shares/" + url.PathEscape(shareID)
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a request with the bearer credential and returns the status
// and (capped) body. Transport failures come back as TransientError.
func (c *Client) do(ctx context.Context, method, target string, payload []byte) (int, []byte, error) {
	if !c.Authenticated() {
		return 0, nil, apperrors.ErrNotAuthenticated
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return 0, nil, &TransientError{Err: fmt.Errorf("%w: %s %s: %v", apperrors.ErrGateway, method, target, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return 0, nil, &TransientError{Err: fmt.Errorf("%w: reading response: %v", apperrors.ErrGateway, err)}
	}

	return resp.StatusCode, respBody, nil
}

// statusError converts a non-2xx status into the error taxonomy.
// notFound is returned for 404 so callers decide whether absence is an
// error.
func statusError(status int, body []byte, notFound error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", apperrors.ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return notFound
	case isTransientStatus(status):
		return &TransientError{Err: fmt.Errorf("%w: status %d: %s", apperrors.ErrGateway, status, sanitizeResponseBody(body))}
	}

	return fmt.Errorf("%w: status %d: %s", apperrors.ErrGateway, status, sanitizeResponseBody(body))
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// LoadDocument fetches a named document from the folder. A document that
// does not exist yet returns (nil, nil).
func (c *Client) LoadDocument(ctx context.Context, name string) (*models.Document, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.fileURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	if status == http.StatusNotFound {
		return nil, nil
	}

	if !isSuccess(status) {
		return nil, fmt.Errorf("loading %s: %w", name, statusError(status, body, nil))
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	return doc, nil
}

// LastModified returns only the document's timestamp, or "" when the
// document does not exist.
func (c *Client) LastModified(ctx context.Context, name string) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.fileURL(name), nil)
	if err != nil {
		return "", fmt.Errorf("reading timestamp of %s: %w", name, err)
	}

	if status == http.StatusNotFound {
		return "", nil
	}

	if !isSuccess(status) {
		return "", fmt.Errorf("reading timestamp of %s: %w", name, statusError(status, body, nil))
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("reading timestamp of %s: %w", name, apperrors.ErrMalformedDocument)
	}

	return gjson.GetBytes(body, "lastModified").String(), nil
}

// SaveDocument writes a named document, creating it if needed. Saving the
// same content twice is safe.
func (c *Client) SaveDocument(ctx context.Context, name string, doc models.Document) error {
	if doc.Items == nil {
		doc.Items = []models.Item{}
	}

	return c.put(ctx, name, doc)
}

type backupsDocument struct {
	Backups []models.Backup `json:"backups"`
}

// SaveBackups mirrors a domain's backup list to a named document.
func (c *Client) SaveBackups(ctx context.Context, name string, backups []models.Backup) error {
	if backups == nil {
		backups = []models.Backup{}
	}

	return c.put(ctx, name, backupsDocument{Backups: backups})
}

func (c *Client) put(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	status, body, err := c.do(ctx, http.MethodPut, c.fileURL(name), payload)
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}

	if !isSuccess(status) {
		return fmt.Errorf("saving %s: %w", name, statusError(status, body, fmt.Errorf("%w: folder %q", apperrors.ErrNotFound, c.folder)))
	}

	return nil
}

// LoadShared fetches a document another user shared. Unlike owned
// documents, a missing share is an error: the link is invalid.
func (c *Client) LoadShared(ctx context.Context, shareID string) (*models.Document, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.shareURL(shareID), nil)
	if err != nil {
		return nil, fmt.Errorf("loading share %s: %w", shareID, err)
	}

	if !isSuccess(status) {
		return nil, fmt.Errorf("loading share %s: %w", shareID, statusError(status, body, apperrors.ErrNotFound))
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("loading share %s: %w", shareID, err)
	}

	return doc, nil
}

// ParseDocument decodes a remote document. The current shape is an
// object with "items" and "lastModified"; a bare array of items is
// accepted as a document without a timestamp.
func ParseDocument(body []byte) (*models.Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", apperrors.ErrMalformedDocument)
	}

	root := gjson.ParseBytes(body)

	switch {
	case root.IsArray():
		var items []models.Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDocument, err)
		}

		if items == nil {
			items = []models.Item{}
		}

		return &models.Document{Items: items}, nil

	case root.IsObject():
		if items := root.Get("items"); items.Exists() && !items.IsArray() {
			return nil, fmt.Errorf("%w: items is not a list", apperrors.ErrMalformedDocument)
		}

		var doc models.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDocument, err)
		}

		if doc.Items == nil {
			doc.Items = []models.Item{}
		}

		return &doc, nil
	}

	return nil, fmt.Errorf("%w: expected an object or a list", apperrors.ErrMalformedDocument)
}

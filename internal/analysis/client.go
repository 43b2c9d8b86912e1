package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
	"golang.org/x/time/rate"
)

// Export formats served under /export/{format}/{id}.
const (
	FormatPDF  = "pdf"
	FormatJSON = "json"
)

// Client is the interface for the remote analysis backend. It holds no state
// and does no caching.
type Client interface {
	CreateJob(ctx context.Context, up Upload) (*models.CreateResult, error)
	GetJob(ctx context.Context, id string) (*models.Analysis, error)
	DeleteJob(ctx context.Context, id string) error
	ExportPDF(ctx context.Context, id string) (*Export, error)
	ExportJSON(ctx context.Context, id string) (*models.Analysis, error)
	Profile(ctx context.Context) (*models.User, error)
}

// Export is a binary export as downloaded from the backend.
type Export struct {
	ContentType string
	Body        []byte
}

// HTTPClient implements Client against the backend's JSON API.
type HTTPClient struct {
	baseURL string
	tokens  session.Source
	client  *http.Client
	limiter *rate.Limiter
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithRateLimit throttles outbound requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a new analysis backend client. Every request carries
// the bearer token yielded by tokens.
func NewHTTPClient(baseURL string, tokens session.Source, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) CreateJob(ctx context.Context, up Upload) (*models.CreateResult, error) {
	const op = "create analysis"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(up.Filename)))
	h.Set("Content-Type", up.contentType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(up.Content); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if up.Context != "" {
		if err := mw.WriteField("context", up.Context); err != nil {
			return nil, fmt.Errorf("building multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/analysis", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created models.CreateResult
	if err := decodeData(resp.Body, &created, false); err != nil {
		return nil, fmt.Errorf("%w: decoding create response: %w", ErrTransport, err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("%w: create response carried no id", ErrTransport)
	}
	if created.Status == "" {
		created.Status = models.StatusPending
	}
	return &created, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, id string) (*models.Analysis, error) {
	const op = "get analysis"
	if id == "" {
		return nil, fmt.Errorf("%w: analysis id is required", ErrValidation)
	}

	resp, err := c.do(ctx, op, http.MethodGet, "/analysis/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec models.Analysis
	if err := decodeData(resp.Body, &rec, false); err != nil {
		return nil, fmt.Errorf("%w: decoding analysis %s: %w", ErrTransport, id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// DeleteJob asks the backend to remove a job. Backends without a delete
// endpoint answer with ErrNotSupported; callers may treat that as local-only removal.
func (c *HTTPClient) DeleteJob(ctx context.Context, id string) error {
	const op = "delete analysis"
	if id == "" {
		return fmt.Errorf("%w: analysis id is required", ErrValidation)
	}

	resp, err := c.do(ctx, op, http.MethodDelete, "/analysis/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) ExportPDF(ctx context.Context, id string) (*Export, error) {
	const op = "export pdf"
	if id == "" {
		return nil, fmt.Errorf("%w: analysis id is required", ErrValidation)
	}

	resp, err := c.do(ctx, op, http.MethodGet, "/export/pdf/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	return &Export{ContentType: ct, Body: body}, nil
}

func (c *HTTPClient) ExportJSON(ctx context.Context, id string) (*models.Analysis, error) {
	const op = "export json"
	if id == "" {
		return nil, fmt.Errorf("%w: analysis id is required", ErrValidation)
	}

	resp, err := c.do(ctx, op, http.MethodGet, "/export/json/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec models.Analysis
	if err := decodeData(resp.Body, &rec, true); err != nil {
		return nil, fmt.Errorf("%w: decoding json export: %w", ErrTransport, err)
	}
	return &rec, nil
}

func (c *HTTPClient) Profile(ctx context.Context) (*models.User, error) {
	const op = "get profile"

	resp, err := c.do(ctx, op, http.MethodGet, "/auth/profile", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u models.User
	if err := decodeData(resp.Body, &u, false); err != nil {
		return nil, fmt.Errorf("%w: decoding profile: %w", ErrTransport, err)
	}
	return &u, nil
}

// do sends an authenticated request and returns the response when it is 2xx.
// The caller owns resp.Body.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		detail := "No access token available"
		if err != nil && !errors.Is(err, session.ErrNoToken) {
			detail = err.Error()
		}
		return nil, newAPIError(op, http.StatusUnauthorized, detail)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, newAPIError(op, resp.StatusCode, parseDetail(raw, resp.StatusCode))
	}

	return resp, nil
}

// decodeData unwraps the backend's {"data": ...} envelope into v. With
// allowBare, a body without the envelope is decoded as v directly.
func decodeData(r io.Reader, v any, allowBare bool) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if allowBare {
			return json.Unmarshal(raw, v)
		}
		return errors.New("response has no data")
	}
	return json.Unmarshal(env.Data, v)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

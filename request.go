package msclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/openmediakit/msclient/internal/metrics"
)

// FileAttachment is one multipart file part of a request. The reader should
// be seekable when retries are enabled, so a failed attempt can rewind it.
type FileAttachment struct {
	Field  string
	Name   string
	Reader io.Reader
}

type requestSpec struct {
	method   string
	path     string
	params   url.Values
	data     map[string]any
	files    []FileAttachment
	headers  http.Header
	timeout  time.Duration
	maxRetry *int
	noAuth   bool
}

// RequestOption adjusts a single API call.
type RequestOption func(*requestSpec)

// WithMethod sets the HTTP method. The default is GET.
func WithMethod(method string) RequestOption {
	return func(s *requestSpec) {
		s.method = strings.ToUpper(method)
	}
}

// WithParams merges query parameters into the request.
func WithParams(params url.Values) RequestOption {
	return func(s *requestSpec) {
		for key, values := range params {
			for _, value := range values {
				s.params.Add(key, value)
			}
		}
	}
}

// WithParam adds a single query parameter.
func WithParam(key, value string) RequestOption {
	return func(s *requestSpec) {
		s.params.Add(key, value)
	}
}

// WithData sets the body payload. It is sent as a JSON object, or as form
// fields when file attachments are present.
func WithData(data map[string]any) RequestOption {
	return func(s *requestSpec) {
		if s.data == nil {
			s.data = map[string]any{}
		}
		for key, value := range data {
			s.data[key] = value
		}
	}
}

// WithFile attaches a file part, turning the request into a multipart form.
func WithFile(field, filename string, r io.Reader) RequestOption {
	return func(s *requestSpec) {
		s.files = append(s.files, FileAttachment{Field: field, Name: filename, Reader: r})
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(s *requestSpec) {
		s.headers.Set(key, value)
	}
}

// WithTimeout overrides the configured per-request timeout for this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(s *requestSpec) {
		s.timeout = d
	}
}

// WithMaxRetry overrides the configured retry bound for this call. Zero
// disables retries entirely.
func WithMaxRetry(n int) RequestOption {
	return func(s *requestSpec) {
		s.maxRetry = &n
	}
}

func withoutAuth() RequestOption {
	return func(s *requestSpec) {
		s.noAuth = true
	}
}

func newRequestSpec(path string, opts []RequestOption) *requestSpec {
	spec := &requestSpec{
		method:  http.MethodGet,
		path:    path,
		params:  url.Values{},
		headers: http.Header{},
	}
	for _, opt := range opts {
		opt(spec)
	}
	return spec
}

// Result is the decoded JSON object of a successful API response.
type Result map[string]any

// Success reads the boolean success flag. Responses without one count as
// successful.
func (r Result) Success() bool {
	v, ok := r["success"].(bool)
	return !ok || v
}

// Str returns the string at key, or "" when absent or not a string.
func (r Result) Str(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the number at key as an integer. Numeric strings are parsed.
func (r Result) Int(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Bool returns the boolean at key.
func (r Result) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Items returns the list of objects at key.
func (r Result) Items(key string) []Result {
	list, _ := r[key].([]any)
	items := make([]Result, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			items = append(items, Result(m))
		}
	}
	return items
}

// Sub returns the nested object at key, or nil when absent.
func (r Result) Sub(key string) Result {
	m, _ := r[key].(map[string]any)
	if m == nil {
		return nil
	}
	return Result(m)
}

// sign attaches authentication to the request. Servers from 11.0.0 on read
// the api-key header, which keeps the key out of access logs and survives
// redirects. Older servers take the key as a query parameter for GET and
// HEAD calls and as a body field otherwise.
func (c *Client) sign(ctx context.Context, spec *requestSpec) error {
	if spec.noAuth {
		return nil
	}
	version, err := c.ServerVersion(ctx)
	if err != nil {
		return err
	}
	if version.LessThan(versionHeaderAuth) {
		if spec.method == http.MethodGet || spec.method == http.MethodHead {
			spec.params.Set("api_key", c.conf.APIKey)
		} else {
			if spec.data == nil {
				spec.data = map[string]any{}
			}
			spec.data["api_key"] = c.conf.APIKey
		}
		return nil
	}
	spec.headers.Set("api-key", c.conf.APIKey)
	return nil
}

// buildURL resolves the request path against the API root. Paths containing
// "://" are taken as absolute and used unchanged.
func (c *Client) buildURL(spec *requestSpec) string {
	full := spec.path
	if !strings.Contains(full, "://") {
		p := strings.Trim(full, "/")
		if p != "" {
			p += "/"
		}
		full = c.conf.ServerURL + "/api/v2/" + p
	}
	if len(spec.params) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + spec.params.Encode()
	}
	return full
}

// send performs exactly one HTTP round trip. Failures to produce a response
// come back as a TransportError with status code zero; HTTP statuses are not
// inspected here.
func (c *Client) send(ctx context.Context, spec *requestSpec) (*http.Response, error) {
	fullURL := c.buildURL(spec)

	var body io.Reader
	contentType := ""
	if len(spec.files) > 0 {
		buf := &bytes.Buffer{}
		writer := multipart.NewWriter(buf)
		for key, value := range spec.data {
			if err := writer.WriteField(key, fmt.Sprintf("%v", value)); err != nil {
				return nil, fmt.Errorf("failed to write multipart form: %w", err)
			}
		}
		for _, attachment := range spec.files {
			part, err := writer.CreateFormFile(attachment.Field, attachment.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to write multipart form: %w", err)
			}
			if _, err := io.Copy(part, attachment.Reader); err != nil {
				return nil, fmt.Errorf("failed to read attachment %q: %w", attachment.Name, err)
			}
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to write multipart form: %w", err)
		}
		body = buf
		contentType = writer.FormDataContentType()
	} else if spec.data != nil {
		encoded, err := json.Marshal(spec.data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range spec.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.conf.Language != "" && req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", c.conf.Language)
	}
	req.Header.Set("User-Agent", "msclient-go/"+Version)
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: redactURL(fullURL), Message: err.Error(), Err: err}
	}
	return resp, nil
}

var apiKeyParamRe = regexp.MustCompile(`(api_key=)[^&]*`)

// redactURL masks the api_key query parameter legacy servers require, so the
// key never reaches logs or error messages.
func redactURL(u string) string {
	return apiKeyParamRe.ReplaceAllString(u, "${1}***")
}

// doAttempt runs one full request attempt: send, read, decode, check the
// success flag. The per-request timeout bounds the whole attempt.
func (c *Client) doAttempt(ctx context.Context, spec *requestSpec) (Result, error) {
	timeout := spec.timeout
	if timeout <= 0 {
		timeout = c.conf.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	displayURL := redactURL(c.buildURL(spec))
	start := time.Now()
	resp, err := c.send(ctx, spec)
	if err != nil {
		metrics.RecordAPIRequest(spec.method, 0, time.Since(start))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordAPIRequest(spec.method, 0, time.Since(start))
		return nil, &TransportError{URL: displayURL, Message: "response body interrupted: " + err.Error(), Err: err}
	}

	elapsed := time.Since(start)
	metrics.RecordAPIRequest(spec.method, resp.StatusCode, elapsed)
	c.log.Debug().
		Str("method", spec.method).
		Str("url", displayURL).
		Int("status", resp.StatusCode).
		Dur("duration", elapsed).
		Msg("api request")

	if resp.StatusCode != http.StatusOK {
		message, code := extractError(body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			URL:        displayURL,
			Message:    messageWithCode(message, code),
			Response:   Result(payload),
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ApiError{
			Kind:       KindInvalidResponse,
			Message:    "failed to decode JSON: " + err.Error(),
			StatusCode: resp.StatusCode,
			URL:        displayURL,
		}
	}

	result := Result(payload)
	if !result.Success() {
		message, code := extractError(body)
		return nil, &ApiError{
			Kind:       KindRemoteRejected,
			Code:       code,
			Message:    message,
			StatusCode: resp.StatusCode,
			URL:        displayURL,
			Response:   result,
		}
	}
	return result, nil
}

// Api performs an HTTP API call. The path is relative to the API root. Only
// transient transport failures (no response, 5xx) are retried, with growing
// delays, up to the configured bound; everything else fails immediately.
func (c *Client) Api(ctx context.Context, path string, opts ...RequestOption) (Result, error) {
	if err := c.checkConf(); err != nil {
		return nil, err
	}
	spec := newRequestSpec(path, opts)
	if err := c.sign(ctx, spec); err != nil {
		return nil, err
	}

	var result Result
	attempt := func() error {
		seekAttachments(spec)
		r, err := c.doAttempt(ctx, spec)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	retries := c.conf.MaxRetry
	if spec.maxRetry != nil {
		retries = *spec.maxRetry
	}
	if retries <= 0 {
		if err := attempt(); err != nil {
			return nil, err
		}
		return result, nil
	}

	err := retry.Do(
		attempt,
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.RetryIf(IsTransient),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.backoff(n)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			metrics.RecordRetry()
			c.log.Warn().
				Uint("attempt", n+1).
				Str("path", path).
				Err(err).
				Msg("retrying api request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stream performs an API call and hands the raw response to the caller, for
// large or non-JSON bodies. No retry, no per-request timeout: the body may
// legitimately take longer than any API call. The caller must close it.
func (c *Client) Stream(ctx context.Context, path string, opts ...RequestOption) (*http.Response, error) {
	if err := c.checkConf(); err != nil {
		return nil, err
	}
	spec := newRequestSpec(path, opts)
	if err := c.sign(ctx, spec); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, spec)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		message, code := extractError(body)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			URL:        redactURL(c.buildURL(spec)),
			Message:    messageWithCode(message, code),
		}
	}
	return resp, nil
}

// quadraticBackoff waits 3, 12, 27... seconds after each failed attempt.
func quadraticBackoff(attempt uint) time.Duration {
	n := attempt + 1
	return time.Duration(3*n*n) * time.Second
}

func seekAttachments(spec *requestSpec) {
	for _, attachment := range spec.files {
		if seeker, ok := attachment.Reader.(io.Seeker); ok {
			_, _ = seeker.Seek(0, io.SeekStart)
		}
	}
}

// extractError pulls the failure detail out of an API response body. Servers
// report one of error/errors/message plus an optional code; errors may be a
// list.
func extractError(body []byte) (message, code string) {
	for _, key := range []string{"error", "errors", "message"} {
		v := gjson.GetBytes(body, key)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			var parts []string
			for _, item := range v.Array() {
				if s := strings.TrimSpace(item.String()); s != "" {
					parts = append(parts, s)
				}
			}
			message = strings.Join(parts, "; ")
		} else {
			message = strings.TrimSpace(v.String())
		}
		if message != "" {
			break
		}
	}
	code = gjson.GetBytes(body, "code").String()
	if message == "" {
		message = truncate(strings.TrimSpace(string(body)), 200)
	}
	return message, code
}

func messageWithCode(message, code string) string {
	if code != "" {
		return fmt.Sprintf("%s (code: %s)", message, code)
	}
	return message
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

package msclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildURL(t *testing.T) {
	client, err := New(&Config{ServerURL: "https://ms.example.com", APIKey: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name   string
		path   string
		params map[string]string
		want   string
	}{
		{
			name: "relative path gets trailing slash",
			path: "users/me",
			want: "https://ms.example.com/api/v2/users/me/",
		},
		{
			name: "surrounding slashes are normalized",
			path: "/medias/add/",
			want: "https://ms.example.com/api/v2/medias/add/",
		},
		{
			name: "empty path is the api root",
			path: "",
			want: "https://ms.example.com/api/v2/",
		},
		{
			name: "slash path is the api root",
			path: "/",
			want: "https://ms.example.com/api/v2/",
		},
		{
			name: "absolute url is used unchanged",
			path: "https://cdn.example.com/resources/video.mp4",
			want: "https://cdn.example.com/resources/video.mp4",
		},
		{
			name:   "params are appended",
			path:   "search",
			params: map[string]string{"q": "demo"},
			want:   "https://ms.example.com/api/v2/search/?q=demo",
		},
		{
			name:   "params are appended to an existing query",
			path:   "https://cdn.example.com/file?sig=abc",
			params: map[string]string{"range": "full"},
			want:   "https://cdn.example.com/file?sig=abc&range=full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []RequestOption{}
			for key, value := range tt.params {
				opts = append(opts, WithParam(key, value))
			}
			spec := newRequestSpec(tt.path, opts)
			if got := client.buildURL(spec); got != tt.want {
				t.Errorf("buildURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApiSuccess(t *testing.T) {
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("method = %s, want GET", r.Method)
			}
			if r.Header.Get("api-key") != "test-key" {
				t.Errorf("api-key header = %q, want test-key", r.Header.Get("api-key"))
			}
			if r.URL.Query().Get("api_key") != "" {
				t.Error("the api key should not appear in the query on recent servers")
			}
			fmt.Fprint(w, `{"success": true, "username": "admin", "id": 7}`)
		},
	})
	client := newTestClient(t, srv, nil)

	result, err := client.Api(context.Background(), "users/me")
	if err != nil {
		t.Fatalf("Api() error = %v", err)
	}
	if result.Str("username") != "admin" {
		t.Errorf("username = %q, want admin", result.Str("username"))
	}
	if result.Int("id") != 7 {
		t.Errorf("id = %d, want 7", result.Int("id"))
	}
}

func TestApiRetriesTransientFailures(t *testing.T) {
	attempts := 0
	var keys, requestIDs []string
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			keys = append(keys, r.Header.Get("api-key"))
			requestIDs = append(requestIDs, r.Header.Get("X-Request-ID"))
			if attempts <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"success": false, "error": "temporarily overloaded"}`)
				return
			}
			fmt.Fprint(w, `{"success": true, "username": "admin"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 2})

	result, err := client.Api(context.Background(), "users/me")
	if err != nil {
		t.Fatalf("Api() error = %v", err)
	}
	if result.Str("username") != "admin" {
		t.Errorf("username = %q, want admin", result.Str("username"))
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	for i, key := range keys {
		if key != "test-key" {
			t.Errorf("attempt %d api-key = %q, want identical authentication on every attempt", i+1, key)
		}
	}
	for i, id := range requestIDs {
		if id == "" {
			t.Errorf("attempt %d has no request id", i+1)
		}
	}
	if requestIDs[0] == requestIDs[1] {
		t.Error("each attempt should carry a fresh request id")
	}
}

func TestApiRetriesExhausted(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"success": false, "error": "upstream down"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 2})

	_, err := client.Api(context.Background(), "users/me")
	if err == nil {
		t.Fatal("Api() should fail when every attempt fails")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", StatusCode(err))
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("error = %v, should carry the server message", err)
	}
}

func TestApiDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"medias/get/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"success": false, "error": "media not found", "code": "not_found"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 2})

	_, err := client.Api(context.Background(), "medias/get", WithParam("oid", "v126"))
	if err == nil {
		t.Fatal("Api() should fail on 404")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1, client errors are final", attempts)
	}
	if IsTransient(err) {
		t.Error("a 404 should not be transient")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %T, want TransportError", err)
	}
	if te.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", te.StatusCode)
	}
	if !strings.Contains(te.Message, "media not found") || !strings.Contains(te.Message, "not_found") {
		t.Errorf("message = %q, should carry the server message and code", te.Message)
	}
}

func TestApiRemoteRejected(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"medias/delete/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			fmt.Fprint(w, `{"success": false, "error": "permission denied", "code": "403"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 2})

	_, err := client.Api(context.Background(), "medias/delete", WithMethod(http.MethodPost))
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want ApiError", err)
	}
	if apiErr.Kind != KindRemoteRejected {
		t.Errorf("kind = %q, want %q", apiErr.Kind, KindRemoteRejected)
	}
	if apiErr.Code != "403" {
		t.Errorf("code = %q, want 403", apiErr.Code)
	}
	if apiErr.Message != "permission denied" {
		t.Errorf("message = %q, want permission denied", apiErr.Message)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1, rejections are final", attempts)
	}
}

func TestApiInvalidJSON(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			fmt.Fprint(w, "<html>proxy error page</html>")
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 2})

	_, err := client.Api(context.Background(), "users/me")
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want ApiError", err)
	}
	if apiErr.Kind != KindInvalidResponse {
		t.Errorf("kind = %q, want %q", apiErr.Kind, KindInvalidResponse)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1, bad payloads are final", attempts)
	}
}

func TestApiMaxRetryZero(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"success": false, "error": "boom"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 0})

	_, err := client.Api(context.Background(), "users/me")
	if err == nil {
		t.Fatal("Api() should fail")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 with retries disabled", attempts)
	}
}

func TestApiPerCallMaxRetry(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"success": false, "error": "boom"}`)
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 0})

	_, err := client.Api(context.Background(), "users/me", WithMaxRetry(1))
	if err == nil {
		t.Fatal("Api() should fail")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2, the per-call bound overrides the configuration", attempts)
	}
}

func TestApiOldServerAuth(t *testing.T) {
	srv := newTestServer(t, "7.9.0", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("api-key") != "" {
				t.Error("old servers should not receive the api-key header")
			}
			if r.URL.Query().Get("api_key") != "test-key" {
				t.Errorf("api_key param = %q, want test-key", r.URL.Query().Get("api_key"))
			}
			fmt.Fprint(w, `{"success": true}`)
		},
		"users/add/": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("api_key") != "" {
				t.Error("the api key should not appear in the query of a POST")
			}
			body := map[string]any{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			if body["api_key"] != "test-key" {
				t.Errorf("api_key field = %v, want test-key", body["api_key"])
			}
			if body["email"] != "user@example.com" {
				t.Errorf("email = %v, want user@example.com", body["email"])
			}
			fmt.Fprint(w, `{"success": true}`)
		},
	})
	client := newTestClient(t, srv, nil)

	if _, err := client.Api(context.Background(), "users/me"); err != nil {
		t.Fatalf("Api() error = %v", err)
	}
	_, err := client.Api(context.Background(), "users/add",
		WithMethod(http.MethodPost),
		WithData(map[string]any{"email": "user@example.com"}),
	)
	if err != nil {
		t.Fatalf("Api() error = %v", err)
	}
}

func TestApiTimeout(t *testing.T) {
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"slow/": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(500 * time.Millisecond):
				fmt.Fprint(w, `{"success": true}`)
			}
		},
	})
	client := newTestClient(t, srv, &Config{MaxRetry: 0})

	_, err := client.Api(context.Background(), "slow", WithTimeout(30*time.Millisecond))
	if err == nil {
		t.Fatal("Api() should time out")
	}
	if StatusCode(err) != 0 {
		t.Errorf("status = %d, want 0 for a timeout", StatusCode(err))
	}
	if !IsTransient(err) {
		t.Error("a timeout should be transient")
	}
}

func TestApiInvalidConfig(t *testing.T) {
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"users/me/": func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request should reach the server with a broken configuration")
		},
	})
	client, err := New(&Config{ServerURL: srv.URL}, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := client.Api(context.Background(), "users/me")
		var confErr *ConfigError
		if !errors.As(err, &confErr) {
			t.Fatalf("call %d error = %v, want ConfigError", i+1, err)
		}
		if confErr.Field != "API_KEY" {
			t.Errorf("field = %q, want API_KEY", confErr.Field)
		}
	}
}

func TestApiVersionProbedOnce(t *testing.T) {
	probes, calls := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/" {
			http.NotFound(w, r)
			return
		}
		probes++
		fmt.Fprint(w, `{"success": true, "mediaserver": "12.4.2"}`)
	})
	mux.HandleFunc("/api/v2/users/me/", func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"success": true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := newTestClient(t, srv, nil)

	for i := 0; i < 2; i++ {
		if _, err := client.Api(context.Background(), "users/me"); err != nil {
			t.Fatalf("Api() error = %v", err)
		}
	}
	if probes != 1 {
		t.Errorf("version probes = %d, want 1", probes)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestApiCanceledContext(t *testing.T) {
	srv := newTestServer(t, "12.4.2", nil)
	client := newTestClient(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Api(ctx, "users/me")
	if err == nil {
		t.Fatal("Api() should fail on a canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
}

func TestRequestHeaders(t *testing.T) {
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"ping/": func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("User-Agent"); got != "msclient-go/"+Version {
				t.Errorf("User-Agent = %q, want msclient-go/%s", got, Version)
			}
			if got := r.Header.Get("Accept-Language"); got != "fr" {
				t.Errorf("Accept-Language = %q, want fr", got)
			}
			if got := r.Header.Get("X-Custom"); got != "42" {
				t.Errorf("X-Custom = %q, want 42", got)
			}
			fmt.Fprint(w, `{"success": true}`)
		},
	})
	client := newTestClient(t, srv, &Config{Language: "fr"})

	_, err := client.Api(context.Background(), "ping", WithHeader("X-Custom", "42"))
	if err != nil {
		t.Fatalf("Api() error = %v", err)
	}
}

func TestStream(t *testing.T) {
	srv := newTestServer(t, "12.4.2", map[string]http.HandlerFunc{
		"download/file/": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "raw bytes, not json")
		},
		"download/missing/": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"success": false, "error": "no such file"}`)
		},
	})
	client := newTestClient(t, srv, nil)

	t.Run("hands over the raw body", func(t *testing.T) {
		resp, err := client.Stream(context.Background(), "download/file")
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if string(body) != "raw bytes, not json" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("reports http errors", func(t *testing.T) {
		_, err := client.Stream(context.Background(), "download/missing")
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("error = %T, want TransportError", err)
		}
		if te.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", te.StatusCode)
		}
		if !strings.Contains(te.Message, "no such file") {
			t.Errorf("message = %q, should carry the server message", te.Message)
		}
	})
}

func TestResultHelpers(t *testing.T) {
	t.Run("success defaults to true", func(t *testing.T) {
		if !(Result{}).Success() {
			t.Error("a response without a success flag counts as successful")
		}
		if !(Result{"success": true}).Success() {
			t.Error("explicit true")
		}
		if (Result{"success": false}).Success() {
			t.Error("explicit false")
		}
	})

	t.Run("typed getters", func(t *testing.T) {
		r := Result{
			"name":  "demo",
			"count": float64(42),
			"size":  "1337",
			"ready": true,
			"items": []any{
				map[string]any{"oid": "v1"},
				"not an object",
				map[string]any{"oid": "v2"},
			},
		}
		if r.Str("name") != "demo" {
			t.Errorf("Str = %q", r.Str("name"))
		}
		if r.Str("missing") != "" {
			t.Error("missing string should be empty")
		}
		if r.Int("count") != 42 {
			t.Errorf("Int = %d", r.Int("count"))
		}
		if r.Int("size") != 1337 {
			t.Errorf("Int from string = %d", r.Int("size"))
		}
		if !r.Bool("ready") {
			t.Error("Bool = false")
		}
		items := r.Items("items")
		if len(items) != 2 {
			t.Fatalf("Items = %d entries, want 2", len(items))
		}
		if items[1].Str("oid") != "v2" {
			t.Errorf("items[1].oid = %q", items[1].Str("oid"))
		}
	})

	t.Run("nested objects", func(t *testing.T) {
		r := Result{"info": map[string]any{"oid": "v1", "title": "Keynote"}}
		if r.Sub("info").Str("title") != "Keynote" {
			t.Errorf("Sub().Str() = %q", r.Sub("info").Str("title"))
		}
		if r.Sub("missing") != nil {
			t.Error("missing object should be nil")
		}
	})
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "api key is masked",
			url:  "https://ms.example.com/api/v2/users/me/?api_key=secret123",
			want: "https://ms.example.com/api/v2/users/me/?api_key=***",
		},
		{
			name: "other params survive",
			url:  "https://ms.example.com/api/v2/search/?api_key=secret&q=demo",
			want: "https://ms.example.com/api/v2/search/?api_key=***&q=demo",
		},
		{
			name: "no key, no change",
			url:  "https://ms.example.com/api/v2/",
			want: "https://ms.example.com/api/v2/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactURL(tt.url); got != tt.want {
				t.Errorf("redactURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuadraticBackoff(t *testing.T) {
	tests := []struct {
		attempt uint
		want    time.Duration
	}{
		{attempt: 0, want: 3 * time.Second},
		{attempt: 1, want: 12 * time.Second},
		{attempt: 2, want: 27 * time.Second},
	}
	for _, tt := range tests {
		if got := quadraticBackoff(tt.attempt); got != tt.want {
			t.Errorf("quadraticBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExtractError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantMsg  string
		wantCode string
	}{
		{
			name:     "error with code",
			body:     `{"success": false, "error": "permission denied", "code": "403"}`,
			wantMsg:  "permission denied",
			wantCode: "403",
		},
		{
			name:    "errors key",
			body:    `{"success": false, "errors": "several things went wrong"}`,
			wantMsg: "several things went wrong",
		},
		{
			name:    "errors list is joined",
			body:    `{"success": false, "errors": ["file too large", "quota exceeded"]}`,
			wantMsg: "file too large; quota exceeded",
		},
		{
			name:    "message key",
			body:    `{"success": false, "message": "try later"}`,
			wantMsg: "try later",
		},
		{
			name:    "plain text body",
			body:    "502 Bad Gateway",
			wantMsg: "502 Bad Gateway",
		},
		{
			name:    "long body is truncated",
			body:    strings.Repeat("x", 500),
			wantMsg: strings.Repeat("x", 200),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, code := extractError([]byte(tt.body))
			if msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

package msclient

import (
	"errors"
	"fmt"
)

// ConfigError reports missing or invalid client configuration. Calls failing
// with a ConfigError are never retried; the configuration has to be fixed
// before anything can succeed.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return "invalid configuration: " + e.Message
}

// TransportError reports a failed HTTP round trip. StatusCode is zero when
// the request never produced a response (DNS failure, refused connection,
// timeout); otherwise it holds the status of the failed response. Response
// carries the decoded error payload when the server sent one.
type TransportError struct {
	StatusCode int
	URL        string
	Message    string
	Response   Result
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request to %s failed: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying. Connection-level
// errors and 5xx statuses are transient; anything in the 4xx range means the
// request itself is wrong and will keep failing.
func (e *TransportError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Kinds of ApiError.
const (
	KindInvalidResponse = "invalid_response"
	KindRemoteRejected  = "remote_rejected"
)

// ApiError reports an application-level failure: the response body was not
// valid JSON, or the server answered with success set to false. These are
// never retried.
type ApiError struct {
	Kind       string
	Code       string
	Message    string
	StatusCode int
	URL        string
	Response   Result
}

func (e *ApiError) Error() string {
	if e.Kind == KindInvalidResponse {
		return fmt.Sprintf("invalid response from %s: %s", e.URL, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("api call to %s failed: %s (code: %s)", e.URL, e.Message, e.Code)
	}
	return fmt.Sprintf("api call to %s failed: %s", e.URL, e.Message)
}

// UploadError reports a broken chunked-upload sequence. The session that
// produced it is unusable; the remote side may hold a partial resource which
// is not cleaned up automatically.
type UploadError struct {
	Path    string
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("upload of %s failed: %s", e.Path, e.Message)
	}
	return "upload failed: " + e.Message
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transport failure that may succeed on
// a later attempt.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient()
}

// StatusCode extracts the HTTP status carried by err, or zero when err has
// none (connection failures, non-HTTP errors).
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	var ae *ApiError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

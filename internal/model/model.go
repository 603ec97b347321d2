// Package model defines shared types for the gateway.
package model

import (
	"fmt"
	"io"
	"net/http"
)

// AuthContext carries the caller's credentials as received. The gateway never
// decodes or validates them.
type AuthContext struct {
	Authorization string // inbound Authorization header, forwarded unchanged
	Token         string // legacy auth_token header
	TokenType     string // legacy token_type header
}

// Empty reports whether no credential of any kind is present.
func (a AuthContext) Empty() bool {
	return a.Authorization == "" && a.Token == ""
}

// OutboundRequest describes one call to the orchestrator API.
type OutboundRequest struct {
	Method   string
	Endpoint string // path relative to the upstream base URL
	Header   http.Header
	Body     io.Reader
	// ContentType overrides the default JSON content type. Multipart bodies
	// set it to the writer's content type so the boundary travels along.
	ContentType string
	Auth        AuthContext
	// Stream marks responses the caller pipes to the client. The upstream
	// timeout then covers the wait for response headers only.
	Stream bool
}

// UpstreamResponse is a successful orchestrator response.
// The caller is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// UpstreamError is returned for every failed orchestrator call. Status is 0
// for network failures, 504 for timeouts and the upstream status otherwise.
type UpstreamError struct {
	Status     int
	StatusText string
	Data       map[string]any
	Err        error // transport cause, nil for HTTP status errors
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.Status, e.StatusText, msg)
	}
	return fmt.Sprintf("upstream %d %s", e.Status, e.StatusText)
}

// Message returns data.message, falling back to a string data.detail.
func (e *UpstreamError) Message() string {
	for _, key := range []string{"message", "detail"} {
		if s, ok := e.Data[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// UploadedFile is a multipart file buffered to disk for one upload request.
type UploadedFile struct {
	TempPath     string
	OriginalName string
	TargetPath   string // "<user_id>/<filename>"
	Size         int64
	ContentType  string
}

// Package service implements the gateway operations forwarded to the orchestrator.
package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"docfolder-gateway/internal/model"
	"docfolder-gateway/internal/upload"
)

// Upstream endpoints on the orchestrator.
const (
	endpointLogin          = "/auth/login"
	endpointRegister       = "/orchestrator/register"
	endpointChangePassword = "/auth/change-password"
	endpointLogout         = "/views/logout"
	endpointMetadata       = "/documents/metadata/"
	endpointDocument       = "/documents/doc/"
	endpointDocuments      = "/documents/"
	endpointCertify        = "/document/certify"
	endpointShare          = "/transfers/share_doc"
	endpointTransferOut    = "/transfers/outgoing"
	endpointOperators      = "/operators"
)

// forwardableRequestHeaders are the only inbound headers forwarded upstream
// besides the Authorization header built from the caller's AuthContext.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"X-Request-Id",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":        true,
	"Content-Length":      true,
	"Content-Encoding":    true,
	"Content-Disposition": true,
	"Cache-Control":       true,
	"Date":                true,
	"X-Request-Id":        true,
}

// Upstream sends one request to the orchestrator.
type Upstream interface {
	Do(ctx context.Context, req *model.OutboundRequest) (*model.UpstreamResponse, error)
}

// Caller is what the gateway knows about the inbound request.
type Caller struct {
	Header http.Header
	Auth   model.AuthContext
}

// GatewayService maps each gateway operation onto an orchestrator call.
type GatewayService struct {
	upstream Upstream
	uploads  *upload.Pipeline
	logger   *slog.Logger
}

// NewGatewayService creates a GatewayService.
func NewGatewayService(up Upstream, uploads *upload.Pipeline, logger *slog.Logger) *GatewayService {
	return &GatewayService{
		upstream: up,
		uploads:  uploads,
		logger:   logger.With("component", "gateway_service"),
	}
}

// Login forwards credentials verbatim.
func (s *GatewayService) Login(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	return s.forward(ctx, c, http.MethodPost, endpointLogin, body)
}

// Register forwards a registration form verbatim.
func (s *GatewayService) Register(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	return s.forward(ctx, c, http.MethodPost, endpointRegister, body)
}

// ChangePassword forwards a password change for the authenticated caller.
func (s *GatewayService) ChangePassword(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	if err := requireJSONObject(body); err != nil {
		return nil, err
	}
	return s.forward(ctx, c, http.MethodPost, endpointChangePassword, body)
}

// Logout notifies the orchestrator that the caller's token is done.
func (s *GatewayService) Logout(ctx context.Context, c Caller) (*model.UpstreamResponse, error) {
	return s.forward(ctx, c, http.MethodPost, endpointLogout, []byte("{}"))
}

// Metadata lists the documents of userID.
func (s *GatewayService) Metadata(ctx context.Context, c Caller, userID string) (*model.UpstreamResponse, error) {
	if err := requireSegments(userID); err != nil {
		return nil, err
	}
	return s.forward(ctx, c, http.MethodGet, endpointMetadata+url.PathEscape(userID), nil)
}

// Upload forwards a buffered upload as a fresh multipart body. The caller
// still owns f and must clean it up.
func (s *GatewayService) Upload(ctx context.Context, c Caller, f *model.UploadedFile) (*model.UpstreamResponse, error) {
	body, contentType, err := s.uploads.Payload(f)
	if err != nil {
		return nil, fmt.Errorf("prepare upload: %w", err)
	}
	defer func() { _ = body.Close() }()

	userID, filename, _ := strings.Cut(f.TargetPath, "/")
	return s.upstream.Do(ctx, &model.OutboundRequest{
		Method:      http.MethodPut,
		Endpoint:    endpointDocument + url.PathEscape(userID) + "/" + url.PathEscape(filename),
		Header:      filterRequestHeaders(c.Header),
		Body:        body,
		ContentType: contentType,
		Auth:        c.Auth,
	})
}

// Download opens a streamed download of docPath ("<user_id>/<filename>", or
// deeper). The caller must close the response body.
func (s *GatewayService) Download(ctx context.Context, c Caller, docPath string) (*model.UpstreamResponse, error) {
	segments := strings.Split(strings.Trim(docPath, "/"), "/")
	if err := requireSegments(segments...); err != nil {
		return nil, err
	}
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	header := filterRequestHeaders(c.Header)
	if header.Get("Accept") == "" {
		header.Set("Accept", "*/*")
	}
	return s.upstream.Do(ctx, &model.OutboundRequest{
		Method:   http.MethodGet,
		Endpoint: endpointDocument + strings.Join(segments, "/"),
		Header:   header,
		Auth:     c.Auth,
		Stream:   true,
	})
}

// Delete removes filename from userID's folder.
func (s *GatewayService) Delete(ctx context.Context, c Caller, userID, filename string) (*model.UpstreamResponse, error) {
	if err := requireSegments(userID, filename); err != nil {
		return nil, err
	}
	endpoint := endpointDocuments + url.PathEscape(userID) + "/" + url.PathEscape(filename)
	return s.forward(ctx, c, http.MethodDelete, endpoint, nil)
}

// Certify asks the orchestrator to certify a document. document_id is required.
func (s *GatewayService) Certify(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	if err := requireJSONObject(body); err != nil {
		return nil, err
	}
	if id := gjson.GetBytes(body, "document_id"); !id.Exists() || id.String() == "" {
		return nil, invalid("document_id: required field missing")
	}
	return s.forward(ctx, c, http.MethodPost, endpointCertify, body)
}

// Share forwards a share request verbatim.
func (s *GatewayService) Share(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	if err := requireJSONObject(body); err != nil {
		return nil, err
	}
	return s.forward(ctx, c, http.MethodPost, endpointShare, body)
}

// TransferOutgoing requests transfer of the caller's folder to another operator.
func (s *GatewayService) TransferOutgoing(ctx context.Context, c Caller, body []byte) (*model.UpstreamResponse, error) {
	var req TransferRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	s.logger.Debug("outgoing transfer", "target_operator_id", req.TargetOperatorID)
	return s.forward(ctx, c, http.MethodPost, endpointTransferOut, body)
}

// Operators lists the document custody operators.
func (s *GatewayService) Operators(ctx context.Context, c Caller) (*model.UpstreamResponse, error) {
	return s.forward(ctx, c, http.MethodGet, endpointOperators, nil)
}

func (s *GatewayService) forward(ctx context.Context, c Caller, method, endpoint string, body []byte) (*model.UpstreamResponse, error) {
	s.logger.Debug("forwarding request",
		"method", method,
		"endpoint", endpoint,
	)

	req := &model.OutboundRequest{
		Method:   method,
		Endpoint: endpoint,
		Header:   filterRequestHeaders(c.Header),
		Auth:     c.Auth,
	}
	if body != nil {
		req.Body = bytes.NewReader(body)
	}
	return s.upstream.Do(ctx, req)
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

// FilterResponseHeaders keeps only the upstream response headers safe to
// hand back to the browser.
func FilterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"docfolder-gateway/internal/model"
	"docfolder-gateway/internal/service"
	"docfolder-gateway/internal/upload"
)

// maxJSONBody bounds JSON request bodies read into memory.
const maxJSONBody = 1 << 20

const internalErrorMessage = "Internal server error"

var errBodyTooLarge = errors.New("request body too large")

// GatewayHandler serves the document folder routes.
type GatewayHandler struct {
	service  *service.GatewayService
	uploads  *upload.Pipeline
	sessions *SessionManager // nil when sessions are disabled
	logger   *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler. sessions may be nil.
func NewGatewayHandler(svc *service.GatewayService, uploads *upload.Pipeline, sessions *SessionManager, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service:  svc,
		uploads:  uploads,
		sessions: sessions,
		logger:   logger.With("component", "gateway_handler"),
	}
}

// Login forwards credentials and returns the upstream answer verbatim. With
// sessions enabled the returned token is also kept server-side.
func (h *GatewayHandler) Login(c echo.Context) error {
	body, err := readJSONBody(c)
	if err != nil {
		return h.mapError(c, err)
	}
	resp, err := h.service.Login(c.Request().Context(), h.caller(c), body)
	if err != nil {
		return h.mapError(c, err)
	}
	if h.sessions == nil {
		return h.respond(c, resp)
	}
	return h.sessions.Login(c, resp)
}

// Register forwards a new account to the orchestrator.
func (h *GatewayHandler) Register(c echo.Context) error {
	return h.withBody(c, h.service.Register)
}

// ChangePassword forwards a password change.
func (h *GatewayHandler) ChangePassword(c echo.Context) error {
	return h.withBody(c, h.service.ChangePassword)
}

// Logout forwards the logout and always drops the local session.
func (h *GatewayHandler) Logout(c echo.Context) error {
	caller := h.caller(c)
	if h.sessions != nil {
		h.sessions.Logout(c)
	}
	resp, err := h.service.Logout(c.Request().Context(), caller)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

// Metadata lists the documents of :user_id.
func (h *GatewayHandler) Metadata(c echo.Context) error {
	resp, err := h.service.Metadata(c.Request().Context(), h.caller(c), c.Param("user_id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

// Upload buffers the multipart "file" field to disk and forwards it as
// PUT /documents/doc/<user_id>/<filename>. The temp file is removed on every path.
func (h *GatewayHandler) Upload(c echo.Context) error {
	userID, filename, ok := strings.Cut(c.Param("*"), "/")
	if !ok || strings.Contains(filename, "/") {
		return h.mapError(c, fmt.Errorf("%w: expected /documents/doc/<user_id>/<filename>", upload.ErrInvalidTarget))
	}

	mr, err := c.Request().MultipartReader()
	if err != nil {
		return h.mapError(c, fmt.Errorf("%w: expected multipart/form-data", upload.ErrFileMissing))
	}

	f, err := h.uploads.Ingest(mr, userID, filename)
	if err != nil {
		return h.mapError(c, err)
	}
	defer h.uploads.Cleanup(f)

	resp, err := h.service.Upload(c.Request().Context(), h.caller(c), f)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

// Download streams /documents/doc/<path> to the client as an attachment.
func (h *GatewayHandler) Download(c echo.Context) error {
	docPath := c.Param("*")
	resp, err := h.service.Download(c.Request().Context(), h.caller(c), docPath)
	if err != nil {
		return h.mapError(c, err)
	}

	resp.Header = service.FilterResponseHeaders(resp.Header)
	resp.Header.Set("Content-Disposition", attachment(path.Base(docPath)))
	if resp.Header.Get("Content-Type") == "" {
		resp.Header.Set("Content-Type", "application/octet-stream")
	}
	return h.stream(c, resp)
}

// Delete removes :filename from :userid's folder.
func (h *GatewayHandler) Delete(c echo.Context) error {
	resp, err := h.service.Delete(c.Request().Context(), h.caller(c), c.Param("userid"), c.Param("filename"))
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

// Certify forwards a certification request.
func (h *GatewayHandler) Certify(c echo.Context) error {
	return h.withBody(c, h.service.Certify)
}

// Share forwards a document share request.
func (h *GatewayHandler) Share(c echo.Context) error {
	return h.withBody(c, h.service.Share)
}

// TransferOutgoing forwards a folder transfer to another operator.
func (h *GatewayHandler) TransferOutgoing(c echo.Context) error {
	return h.withBody(c, h.service.TransferOutgoing)
}

// Operators lists the custody operators.
func (h *GatewayHandler) Operators(c echo.Context) error {
	resp, err := h.service.Operators(c.Request().Context(), h.caller(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

type bodyCall func(ctx context.Context, c service.Caller, body []byte) (*model.UpstreamResponse, error)

func (h *GatewayHandler) withBody(c echo.Context, call bodyCall) error {
	body, err := readJSONBody(c)
	if err != nil {
		return h.mapError(c, err)
	}
	resp, err := call(c.Request().Context(), h.caller(c), body)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, resp)
}

// caller extracts the inbound credentials: the Authorization header, else
// the legacy auth_token/token_type headers, else the session cookie.
func (h *GatewayHandler) caller(c echo.Context) service.Caller {
	req := c.Request()
	auth := model.AuthContext{
		Authorization: req.Header.Get(echo.HeaderAuthorization),
		Token:         req.Header.Get("auth_token"),
		TokenType:     req.Header.Get("token_type"),
	}
	if auth.Empty() && h.sessions != nil {
		auth = h.sessions.Auth(c)
	}
	return service.Caller{Header: req.Header, Auth: auth}
}

// respond copies the upstream status, filtered headers and body.
func (h *GatewayHandler) respond(c echo.Context, resp *model.UpstreamResponse) error {
	resp.Header = service.FilterResponseHeaders(resp.Header)
	return h.stream(c, resp)
}

func (h *GatewayHandler) stream(c echo.Context, resp *model.UpstreamResponse) error {
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already sent; a copy failure (client gone, upstream
	// reset) can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

// mapError answers with {"message": ...}. Upstream errors keep their status,
// or 500 when there is none; local validation failures are 4xx.
func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	message := ""

	var upErr *model.UpstreamError
	switch {
	case errors.As(err, &upErr):
		if upErr.Status != 0 {
			status = upErr.Status
		}
		message = upErr.Message()
	case errors.Is(err, service.ErrInvalidRequest):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, upload.ErrExtensionNotAllowed):
		status, message = http.StatusBadRequest, "File type not allowed. Allowed types: "+strings.Join(h.uploads.Extensions(), ", ")
	case errors.Is(err, upload.ErrFileMissing), errors.Is(err, upload.ErrInvalidTarget):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, upload.ErrTooLarge), errors.Is(err, errBodyTooLarge):
		status, message = http.StatusRequestEntityTooLarge, err.Error()
	}
	if message == "" {
		message = internalErrorMessage
	}

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "request failed",
		"err", err,
		"status", status,
		"path", c.Request().URL.Path,
	)

	return c.JSON(status, map[string]string{"message": message})
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// attachment builds an attachment Content-Disposition. Names outside
// printable ASCII use the RFC 2231 filename* form.
func attachment(name string) string {
	plain := true
	for _, r := range name {
		if r < 0x20 || r > 0x7e {
			plain = false
			break
		}
	}
	if plain {
		return `attachment; filename="` + quoteEscaper.Replace(name) + `"`
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func readJSONBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxJSONBody+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(body) > maxJSONBody {
		return nil, fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, maxJSONBody)
	}
	return body, nil
}

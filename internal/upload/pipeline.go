// Package upload implements the two-stage document upload pipeline: the
// inbound multipart file is first buffered to a temp file, then re-wrapped
// into a fresh multipart body for the orchestrator.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"docfolder-gateway/internal/config"
	"docfolder-gateway/internal/metrics"
	"docfolder-gateway/internal/model"
)

// FieldName is the multipart field carrying the document, inbound and outbound.
const FieldName = "file"

var (
	ErrFileMissing         = errors.New("no file uploaded")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrTooLarge            = errors.New("file too large")
	ErrInvalidTarget       = errors.New("invalid upload target")
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Pipeline buffers uploads to disk and rebuilds them for forwarding.
type Pipeline struct {
	tempDir  string
	allowed  map[string]bool
	maxBytes int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPipeline creates the temp directory if needed. m may be nil.
func NewPipeline(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if err := os.MkdirAll(cfg.Upload.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload temp dir %s: %w", cfg.Upload.TempDir, err)
	}

	exts := cfg.Upload.AllowedExtensions
	if len(exts) == 0 {
		exts = config.DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	return &Pipeline{
		tempDir:  cfg.Upload.TempDir,
		allowed:  allowed,
		maxBytes: cfg.Upload.MaxBytes,
		logger:   logger.With("component", "upload_pipeline"),
		metrics:  m,
	}, nil
}

// Allowed reports whether name carries an allowed extension (case insensitive).
func (p *Pipeline) Allowed(name string) bool {
	return p.allowed[strings.ToLower(filepath.Ext(name))]
}

// Extensions returns the allowed extensions, sorted.
func (p *Pipeline) Extensions() []string {
	exts := make([]string, 0, len(p.allowed))
	for ext := range p.allowed {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// TempDir returns the directory temp files are written to.
func (p *Pipeline) TempDir() string {
	return p.tempDir
}

// Ingest reads r until the "file" part and buffers it to a new temp file.
// The extension is checked before anything is written. On error no temp
// file is left behind; on success the caller owns the file and must call
// Cleanup.
func (p *Pipeline) Ingest(r *multipart.Reader, userID, filename string) (*model.UploadedFile, error) {
	target, err := targetPath(userID, filename)
	if err != nil {
		return nil, err
	}

	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			p.count("missing")
			return nil, ErrFileMissing
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != FieldName || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		f, err := p.buffer(part, target)
		_ = part.Close()
		return f, err
	}
}

func (p *Pipeline) buffer(part *multipart.Part, target string) (*model.UploadedFile, error) {
	name := part.FileName()
	if !p.Allowed(name) {
		p.count("rejected")
		return nil, fmt.Errorf("%w: %q", ErrExtensionNotAllowed, name)
	}

	tempPath := filepath.Join(p.tempDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	dst, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	src := io.Reader(part)
	if p.maxBytes > 0 {
		src = io.LimitReader(part, p.maxBytes+1)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	f := &model.UploadedFile{
		TempPath:     tempPath,
		OriginalName: name,
		TargetPath:   target,
		Size:         n,
	}

	switch {
	case err != nil:
		p.Cleanup(f)
		return nil, fmt.Errorf("buffer upload: %w", err)
	case p.maxBytes > 0 && n > p.maxBytes:
		p.Cleanup(f)
		p.count("too_large")
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, p.maxBytes)
	}

	f.ContentType = "application/octet-stream"
	if mt, err := mimetype.DetectFile(tempPath); err == nil {
		f.ContentType = mt.String()
	}

	p.count("buffered")
	if p.metrics != nil {
		p.metrics.UploadedBytes.Add(float64(n))
	}
	p.logger.Debug("upload buffered",
		"target", target,
		"size", n,
		"content_type", f.ContentType,
	)
	return f, nil
}

// Payload reopens the temp file and streams it as a new multipart body with
// a single "file" part. The returned content type carries the boundary.
// The caller must close body.
func (p *Pipeline) Payload(f *model.UploadedFile) (body io.ReadCloser, contentType string, err error) {
	src, err := os.Open(f.TempPath)
	if err != nil {
		return nil, "", fmt.Errorf("reopen temp file: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer func() { _ = src.Close() }()
		err := writeFilePart(mw, src, f)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType(), nil
}

func writeFilePart(mw *multipart.Writer, src io.Reader, f *model.UploadedFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FieldName, quoteEscaper.Replace(f.OriginalName)))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// Cleanup removes the temp file. It never fails; errors are logged.
// Calling it more than once is harmless.
func (p *Pipeline) Cleanup(f *model.UploadedFile) {
	if f == nil || f.TempPath == "" {
		return
	}
	if err := os.Remove(f.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("remove temp upload", "path", f.TempPath, "err", err)
	}
}

func (p *Pipeline) count(outcome string) {
	if p.metrics != nil {
		p.metrics.UploadsTotal.WithLabelValues(outcome).Inc()
	}
}

// targetPath returns "<userID>/<filename>" after rejecting empty values and
// anything that could escape its path segment.
func targetPath(userID, filename string) (string, error) {
	for _, seg := range []string{userID, filename} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidTarget, seg)
		}
	}
	return userID + "/" + filename, nil
}

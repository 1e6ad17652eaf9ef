package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radif/driverelay/internal/metrics"
	"github.com/radif/driverelay/internal/response"
)

const defaultUploadMemory = 32 << 20

// Client-facing messages. Upstream detail never reaches the caller.
const (
	msgNoFile         = "No file received"
	msgUploadFailed   = "File upload failed"
	msgFileIDRequired = "File ID is required"
	msgDownloadFailed = "File download failed"
)

// UploadLimits bounds how an upload is read from the request.
type UploadLimits struct {
	// MaxBytes caps the request body; 0 means unlimited.
	MaxBytes int64
	// MemoryBytes is the multipart parser's in-memory threshold.
	MemoryBytes int64
}

// Handler holds the HTTP handlers for the relay endpoints.
type Handler struct {
	svc    *Service
	limits UploadLimits
	log    *slog.Logger
}

// NewHandler creates a new relay Handler.
func NewHandler(svc *Service, limits UploadLimits, log *slog.Logger) *Handler {
	if limits.MemoryBytes <= 0 {
		limits.MemoryBytes = defaultUploadMemory
	}
	return &Handler{svc: svc, limits: limits, log: log}
}

// Routes mounts the upload and download endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Get("/download/", h.Download)
	r.Get("/download/{fileId}", h.Download)
}

type uploadData struct {
	UploadedFileID string `json:"uploadedFileId" example:"1AbCdEfGhIjKlMnOpQrStUvWxYz"`
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Buffers the multipart field "file" in memory and creates it in the configured folder.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		200		{object}	uploadData
//	@Failure		400		{object}	response.ErrorBody
//	@Failure		500		{object}	response.ErrorBody
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readUpload(w, r)
	if !ok {
		metrics.ObserveTransfer(metrics.OperationUpload, metrics.OutcomeBadRequest)
		response.BadRequest(w, msgNoFile)
		return
	}

	result, err := h.svc.Upload(r.Context(), req)
	if errors.Is(err, ErrBadRequest) {
		response.BadRequest(w, msgNoFile)
		return
	}
	if err != nil {
		h.log.Error("file upload failed", "name", req.Filename, "error", err)
		response.InternalError(w, msgUploadFailed)
		return
	}

	response.OK(w, uploadData{UploadedFileID: result.RemoteObjectID})
}

// readUpload materializes the "file" form field. It reports false when the
// request carries no usable file.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (UploadRequest, bool) {
	if h.limits.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBytes)
	}
	if err := r.ParseMultipartForm(h.limits.MemoryBytes); err != nil {
		h.log.Debug("upload: unreadable multipart form", "error", err)
		return UploadRequest{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		return UploadRequest{}, false
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		h.log.Debug("upload: read form file", "error", err)
		return UploadRequest{}, false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return UploadRequest{
		Payload:     payload,
		Filename:    header.Filename,
		ContentType: contentType,
	}, true
}

// Download godoc
//
//	@Summary		Download a file
//	@Description	Streams the remote file. Content-Type and Content-Disposition come from the remote metadata.
//	@Tags			files
//	@Produce		octet-stream
//	@Param			fileId	path		string	true	"Remote file ID"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	response.ErrorBody
//	@Failure		500		{object}	response.ErrorBody
//	@Router			/download/{fileId} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	t, err := h.svc.Download(r.Context(), fileID)
	if errors.Is(err, ErrBadRequest) {
		response.BadRequest(w, msgFileIDRequired)
		return
	}
	if err != nil {
		h.log.Error("error fetching file", "file_id", fileID, "error", err)
		response.InternalError(w, msgDownloadFailed)
		return
	}
	defer t.Close()

	n, err := t.Stream(w)
	if err != nil {
		// Headers are gone; the only signal left is dropping the connection.
		h.log.Error("error streaming the file", "file_id", fileID, "bytes", n, "error", err)
		panic(http.ErrAbortHandler)
	}
	h.log.Debug("download complete", "file_id", fileID, "bytes", n)
}

package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"innervoice/internal/api/errors"
	"innervoice/internal/api/middleware"
	"innervoice/internal/api/v1/dto"
	"innervoice/internal/app/model"
	"innervoice/internal/app/queue"
)

// JobQueue is the part of queue.Queue the HTTP surface drives.
type JobQueue interface {
	Submit(ctx context.Context, ownerID, sourcePath string, prefs model.Preferences) (string, error)
	Retry(ctx context.Context, ownerID string) (string, error)
	Cancel(jobID string) error
	QueryProgress(jobID string) (queue.Progress, error)
	PendingRetry(ownerID string) (model.AudioJob, bool)
	Depth() int
}

// UploadConfig controls how submitted audio reaches the queue.
type UploadConfig struct {
	// Dir receives a private copy of every submitted file; the queue deletes it afterwards.
	Dir      string
	MaxBytes int64
	// AllowLocalPaths lets JSON submissions name a server-side file to copy.
	AllowLocalPaths bool
}

// JobHandler handles job submission, progress, cancellation and manual retry.
type JobHandler struct {
	queue   JobQueue
	uploads UploadConfig
	logger  *zap.Logger
	newID   func() string
}

// NewJobHandler creates a new job handler
func NewJobHandler(q JobQueue, uploads UploadConfig, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if uploads.Dir == "" {
		uploads.Dir = os.TempDir()
	}
	return &JobHandler{queue: q, uploads: uploads, logger: logger, newID: uuid.NewString}
}

// Submit queues an uploaded or server-side audio file.
// POST /api/v1/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := middleware.ValidateRequest(c, &req); err != nil {
		middleware.HandleError(c, err)
		return
	}

	path, err := h.stage(c, req)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	jobID, err := h.queue.Submit(c.Request.Context(), req.OwnerID, path, req.Preferences())
	if err != nil {
		_ = os.Remove(path)
		middleware.HandleError(c, err)
		return
	}

	resp := dto.SubmitResponse{JobID: jobID, Status: model.JobStatusQueued}
	if p, err := h.queue.QueryProgress(jobID); err == nil {
		resp.Status = p.Status
		resp.Position = p.Position
	}

	c.JSON(http.StatusAccepted, dto.SuccessResponse{
		Data:    resp,
		Message: "Job queued",
	})
}

// stage copies the submitted audio into the upload directory and returns its path.
func (h *JobHandler) stage(c *gin.Context, req dto.SubmitRequest) (string, error) {
	if header, err := c.FormFile("audio"); err == nil {
		if h.uploads.MaxBytes > 0 && header.Size > h.uploads.MaxBytes {
			return "", errors.NewValidationError("Validation failed", map[string]string{
				"audio": fmt.Sprintf("exceeds %d bytes", h.uploads.MaxBytes),
			})
		}
		dst := h.stagePath(header.Filename)
		if err := c.SaveUploadedFile(header, dst); err != nil {
			h.logger.Error("failed to store upload", zap.String("path", dst), zap.Error(err))
			return "", errors.NewInternalError("Failed to store upload")
		}
		return dst, nil
	}

	if req.SourcePath == "" {
		return "", errors.NewBadRequestError("an audio file part or source_path is required")
	}
	if !h.uploads.AllowLocalPaths {
		return "", errors.NewBadRequestError("source_path submissions are disabled")
	}

	dst := h.stagePath(req.SourcePath)
	if err := copyFile(req.SourcePath, dst); err != nil {
		_ = os.Remove(dst)
		h.logger.Warn("cannot stage local source", zap.String("source", req.SourcePath), zap.Error(err))
		return "", errors.NewBadRequestError("source_path is not a readable file")
	}
	return dst, nil
}

func (h *JobHandler) stagePath(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return filepath.Join(h.uploads.Dir, "innervoice-"+h.newID()+ext)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Progress reports a queued or running job.
// GET /api/v1/jobs/:id
func (h *JobHandler) Progress(c *gin.Context) {
	p, err := h.queue.QueryProgress(c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Data: dto.NewProgressResponse(p)})
}

// Cancel requests cancellation of a queued or running job.
// DELETE /api/v1/jobs/:id
func (h *JobHandler) Cancel(c *gin.Context) {
	if err := h.queue.Cancel(c.Param("id")); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SuccessResponse{Message: "Cancellation requested"})
}

// Retry re-enqueues the owner's job that ran out of busy retries.
// POST /api/v1/retries
func (h *JobHandler) Retry(c *gin.Context) {
	var req dto.RetryRequest
	if err := middleware.ValidateRequest(c, &req); err != nil {
		middleware.HandleError(c, err)
		return
	}

	jobID, err := h.queue.Retry(c.Request.Context(), req.OwnerID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SuccessResponse{
		Data:    dto.SubmitResponse{JobID: jobID, Status: model.JobStatusQueued},
		Message: "Retry queued",
	})
}

// PendingRetry shows the owner's job waiting for a manual retry.
// GET /api/v1/retries/:owner_id
func (h *JobHandler) PendingRetry(c *gin.Context) {
	owner := c.Param("owner_id")
	job, ok := h.queue.PendingRetry(owner)
	if !ok {
		middleware.HandleError(c, errors.NewNotFoundError("pending retry"))
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Data: dto.PendingRetryResponse{
		OwnerID:     owner,
		JobID:       job.ID,
		Attempt:     job.Attempt,
		Preferences: job.Preferences,
		SubmittedAt: job.SubmittedAt,
	}})
}

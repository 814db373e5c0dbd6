// handlers_files.go - Uploaded log file handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/storage"
)

const recentFilesLimit = 20

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
	jobs       UploadJobs
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store, sessionMgr SessionManager, jobs UploadJobs) FileHandler {
	return &FileHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
		jobs:       jobs,
	}
}

// HandleUploadFile accepts a multipart upload. Compressed uploads are expanded
// by a background job whose id is returned with a 202.
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	if info.Compressed && h.jobs != nil {
		job := h.jobs.StartJob(info)
		return c.JSON(http.StatusAccepted, uploadResponse{FileInfo: info, JobID: job.ID})
	}
	return c.JSON(http.StatusCreated, uploadResponse{FileInfo: info})
}

// HandleGetUploadJob returns the state of a post-upload job
func (h *FileHandlerImpl) HandleGetUploadJob(c echo.Context) error {
	id := c.Param("jobId")
	if h.jobs == nil {
		return NewNotFoundError("job", id)
	}
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleGetRecentFiles returns the most recently uploaded files
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(recentFilesLimit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file and the sessions ingested from it
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return FromError("failed to delete file", err)
	}

	if h.sessionMgr != nil {
		for _, s := range h.sessionMgr.ListSessions() {
			if s.FileID == id {
				h.sessionMgr.Delete(s.ID)
			}
		}
	}

	return c.NoContent(http.StatusNoContent)
}

type uploadResponse struct {
	*models.FileInfo
	JobID string `json:"jobId,omitempty"`
}

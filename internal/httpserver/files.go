package httpserver

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/intake"
	"github.com/tinytelemetry/rutrace/internal/jobs"
	"github.com/tinytelemetry/rutrace/internal/model"
)

// fileIDKey holds the parsed :file_id once requireFile has run.
const fileIDKey = "file_id"

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

// fail maps store and pipeline errors to responses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, jobs.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, intake.ErrNotTrace), errors.Is(err, intake.ErrNoTraces), errors.Is(err, intake.ErrTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// requireFile resolves :file_id and rejects unknown files.
func (s *Server) requireFile(c *gin.Context) {
	id, ok := parseID(c, "file_id")
	if !ok {
		c.Abort()
		return
	}
	if _, err := s.deps.Store.GetFile(id); err != nil {
		s.fail(c, err)
		c.Abort()
		return
	}
	c.Set(fileIDKey, id)
	c.Next()
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.deps.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes)
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	src, err := header.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer src.Close()

	files, err := s.deps.Intake.Accept(c.Request.Context(), header.Filename, src)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"original_filename": header.Filename,
		"files":             files,
		"total_files":       len(files),
	})
}

func (s *Server) handleListFiles(c *gin.Context) {
	files, err := s.deps.Store.ListFiles()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "total": len(files)})
}

func (s *Server) handleGetFile(c *gin.Context) {
	id, ok := parseID(c, "file_id")
	if !ok {
		return
	}
	f, err := s.deps.Store.GetFile(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id, ok := parseID(c, "file_id")
	if !ok {
		return
	}
	f, err := s.deps.Store.DeleteFile(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("stored file not removed", zap.String("path", f.Path), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

func (s *Server) handleReparse(c *gin.Context) {
	id, ok := parseID(c, "file_id")
	if !ok {
		return
	}
	f, err := s.deps.Store.GetFile(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if f.Status == model.StatusParsing {
		c.JSON(http.StatusConflict, gin.H{"error": "file is being parsed"})
		return
	}
	if err := s.deps.Jobs.Reparse(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "parse_status": model.StatusPending})
}

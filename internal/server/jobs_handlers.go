package server

import (
	"errors"
	"fmt"
	"io"
	"keywords/internal/cache"
	"keywords/internal/controller"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/storage"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WorkResponse represents a job record in API responses
type WorkResponse struct {
	ID             string              `json:"id"`
	SourceFilename string              `json:"sourceFilename"`
	Status         string              `json:"status"`
	StatusCode     model.WorkStatus    `json:"statusCode"`
	OutputFilename string              `json:"outputFilename,omitempty"`
	Params         model.ExtractParams `json:"params"`
	CreatedAt      string              `json:"createdAt"`
	StartedAt      string              `json:"startedAt,omitempty"`
	EndedAt        string              `json:"endedAt,omitempty"`
}

// SubmitWorkHandler accepts a spreadsheet upload and enqueues an extraction job
func (s *Server) SubmitWorkHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A spreadsheet file is required"})
		return
	}

	params, err := extractParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	work, err := s.jc.Submit(c.Request.Context(), controller.Upload{Filename: fileHeader.Filename, Data: data}, params)
	if errors.Is(err, controller.ErrInvalidUpload) || errors.Is(err, controller.ErrTrademarkUnavailable) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("filename", fileHeader.Filename).Msg("Failed to submit job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": work.ID.Hex()})
}

// KillWorkHandler stops a waiting or running job
func (s *Server) KillWorkHandler(c *gin.Context) {
	jobID := c.Param("id")

	err := s.jc.Kill(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, database.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, controller.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to kill job: " + err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"id": jobID, "status": model.JobKilled.String()})
	}
}

// GetProgressHandler returns the live progress of one job
func (s *Server) GetProgressHandler(c *gin.Context) {
	progress, err := s.jc.GetProgress(c.Request.Context(), c.Param("id"))
	if errors.Is(err, cache.ErrProgressNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Progress not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get progress: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// ListProgressHandler returns the live progress of every running job
func (s *Server) ListProgressHandler(c *gin.Context) {
	progress, err := s.jc.ListProgress(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list progress: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// GetWorkHandler returns a specific job by ID
func (s *Server) GetWorkHandler(c *gin.Context) {
	work, err := s.jc.GetWork(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, convertWorkToResponse(work))
}

// ListWorksHandler returns jobs newest first
func (s *Server) ListWorksHandler(c *gin.Context) {
	limit, offset := getPaginationParams(c)

	works, err := s.jc.ListWorks(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
		return
	}

	response := make([]WorkResponse, 0, len(works))
	for _, work := range works {
		response = append(response, convertWorkToResponse(work))
	}

	c.JSON(http.StatusOK, response)
}

// DownloadResultHandler streams a rendered result workbook
func (s *Server) DownloadResultHandler(c *gin.Context) {
	name := c.Param("name")

	rc, err := s.jc.OpenResult(c.Request.Context(), name)
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	case errors.Is(err, storage.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open result: " + err.Error()})
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, xlsxContentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}

// Helper functions

// extractParams reads the optional threshold fields of a submission
func extractParams(c *gin.Context) (model.ExtractParams, error) {
	var params model.ExtractParams
	var err error

	ints := []struct {
		field string
		dst   *int
	}{
		{"sellerCountMin", &params.SellerCountMin},
		{"sellerCountMax", &params.SellerCountMax},
		{"searchCount", &params.MinVolume},
	}
	for _, f := range ints {
		v := c.PostForm(f.field)
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return params, fmt.Errorf("invalid %s: %q", f.field, v)
		}
	}

	if v := c.PostForm("useTrademark"); v != "" {
		if params.UseTrademark, err = strconv.ParseBool(v); err != nil {
			return params, fmt.Errorf("invalid useTrademark: %q", v)
		}
	}

	return params, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// convertWorkToResponse converts a job record to a response format
func convertWorkToResponse(work *model.Work) WorkResponse {
	return WorkResponse{
		ID:             work.ID.Hex(),
		SourceFilename: work.SourceFilename,
		Status:         workStatusName(work.Status),
		StatusCode:     work.Status,
		OutputFilename: work.OutputFilename,
		Params:         work.Params,
		CreatedAt:      work.CreatedAt.Format(time.RFC3339),
		StartedAt:      formatTime(work.StartedAt),
		EndedAt:        formatTime(work.EndedAt),
	}
}

// workStatusName names a durable status by the job state it projects
func workStatusName(status model.WorkStatus) string {
	switch status {
	case model.WorkWaiting:
		return model.JobWaiting.String()
	case model.WorkInProgress:
		return model.JobInProgress.String()
	case model.WorkSuccess:
		return model.JobSuccess.String()
	case model.WorkFailed:
		return model.JobFailed.String()
	case model.WorkQuotaExceeded:
		return model.JobQuotaExceeded.String()
	case model.WorkKilled:
		return model.JobKilled.String()
	}
	return "UNKNOWN"
}

// getPaginationParams extracts pagination parameters from request
func getPaginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/service"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
	"github.com/noah-isme/prime-exam-api/pkg/response"
)

// ExamHandler exposes exam catalog and answer key endpoints.
type ExamHandler struct {
	exams *service.ExamService
}

// NewExamHandler constructs ExamHandler.
func NewExamHandler(exams *service.ExamService) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// Create godoc
// @Summary Create exam instance
// @Tags Exams
// @Accept json
// @Produce json
// @Param payload body service.CreateExamRequest true "Exam payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exams [post]
func (h *ExamHandler) Create(c *gin.Context) {
	var req service.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exam, err := h.exams.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exam)
}

// List godoc
// @Summary List exam instances
// @Tags Exams
// @Produce json
// @Param year query int false "Filter by year"
// @Param type query string false "Filter by exam type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exams [get]
func (h *ExamHandler) List(c *gin.Context) {
	var filter models.ExamFilter
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	filter.ExamType = c.Query("type")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	exams, total, err := h.exams.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, exams, pagination)
}

// Get godoc
// @Summary Get exam detail
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id} [get]
func (h *ExamHandler) Get(c *gin.Context) {
	exam, err := h.exams.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// UpsertAnswerKey godoc
// @Summary Upsert official answer key
// @Description Writes official answers; a disputed problem lists multiple accepted choices
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body []service.AnswerKeyEntry true "Answer key entries"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exams/{id}/answers [put]
func (h *ExamHandler) UpsertAnswerKey(c *gin.Context) {
	var entries []service.AnswerKeyEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.exams.UpsertOfficialAnswers(c.Request.Context(), c.Param("id"), entries)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"outcome": outcome.String()}, nil)
}

// ImportAnswerKey godoc
// @Summary Import answer key CSV
// @Description Reads subject,number,answer rows; answers above 5 use the legacy multi-choice digit encoding
// @Tags Exams
// @Accept mpfd
// @Produce json
// @Param id path string true "Exam ID"
// @Param file formData file true "CSV file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exams/{id}/answers/import [post]
func (h *ExamHandler) ImportAnswerKey(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "CSV file required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return
	}
	defer file.Close()

	outcome, err := h.exams.ImportAnswerKeyCSV(c.Request.Context(), c.Param("id"), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"outcome": outcome.String()}, nil)
}

// Publish godoc
// @Summary Publish official answers
// @Description Flips the publication flag and triggers the full rescore pipeline
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 202 {object} response.Envelope
// @Router /exams/{id}/publish [post]
func (h *ExamHandler) Publish(c *gin.Context) {
	if err := h.exams.PublishAnswers(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"status": "publishing"}, nil)
}

// SetPrediction godoc
// @Summary Open or close prediction mode
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body map[string]bool true "Open flag"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/prediction [post]
func (h *ExamHandler) SetPrediction(c *gin.Context) {
	var payload struct {
		Open bool `json:"open"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.exams.SetPredictionOpen(c.Request.Context(), c.Param("id"), payload.Open); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"open": payload.Open}, nil)
}

// Rescore godoc
// @Summary Recompute all derived data of an exam
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 202 {object} response.Envelope
// @Router /exams/{id}/rescore [post]
func (h *ExamHandler) Rescore(c *gin.Context) {
	if err := h.exams.RescoreExam(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"status": "rescored"}, nil)
}

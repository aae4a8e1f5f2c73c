package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prime-exam-api/internal/service"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
	"github.com/noah-isme/prime-exam-api/pkg/response"
)

// AnswerHandler exposes draft submission and confirmation endpoints.
type AnswerHandler struct {
	answers *service.AnswerService
}

// NewAnswerHandler constructs AnswerHandler.
func NewAnswerHandler(answers *service.AnswerService) *AnswerHandler {
	return &AnswerHandler{answers: answers}
}

// Upsert godoc
// @Summary Submit or replace a draft answer
// @Tags Answers
// @Accept json
// @Produce json
// @Param payload body service.UpsertAnswerRequest true "Answer payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /answers [put]
func (h *AnswerHandler) Upsert(c *gin.Context) {
	var req service.UpsertAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	answer, err := h.answers.UpsertAnswer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, answer, nil)
}

// Confirm godoc
// @Summary Confirm a subject's answers
// @Description Freezes the subject and recomputes the student's scores, ranks and distribution tallies
// @Tags Answers
// @Accept json
// @Produce json
// @Param payload body service.ConfirmSubjectRequest true "Confirm payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /answers/confirm [post]
func (h *AnswerHandler) Confirm(c *gin.Context) {
	var req service.ConfirmSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	set, err := h.answers.ConfirmSubject(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, set, nil)
}

// SubjectAnswers godoc
// @Summary List a student's answers for one subject
// @Tags Answers
// @Produce json
// @Param studentId query string true "Student ID"
// @Param examId query string true "Exam ID"
// @Param subject query string true "Subject code"
// @Success 200 {object} response.Envelope
// @Router /answers [get]
func (h *AnswerHandler) SubjectAnswers(c *gin.Context) {
	studentID := c.Query("studentId")
	examID := c.Query("examId")
	subject := c.Query("subject")
	if studentID == "" || examID == "" || subject == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "studentId, examId and subject required"))
		return
	}
	answers, err := h.answers.SubjectAnswers(c.Request.Context(), studentID, examID, subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, answers, nil)
}

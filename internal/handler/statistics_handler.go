package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prime-exam-api/internal/service"
	"github.com/noah-isme/prime-exam-api/pkg/response"
)

// StatisticsHandler exposes cohort statistics and rank refresh endpoints.
type StatisticsHandler struct {
	exams      *service.ExamService
	statistics *service.StatisticsService
	ranks      *service.RankService
}

// NewStatisticsHandler constructs StatisticsHandler.
func NewStatisticsHandler(exams *service.ExamService, statistics *service.StatisticsService, ranks *service.RankService) *StatisticsHandler {
	return &StatisticsHandler{exams: exams, statistics: statistics, ranks: ranks}
}

// Get godoc
// @Summary Cohort statistics of an exam
// @Tags Statistics
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/statistics [get]
func (h *StatisticsHandler) Get(c *gin.Context) {
	stats, err := h.statistics.ExamStatistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Refresh godoc
// @Summary Recompute cohort statistics
// @Tags Statistics
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/statistics/refresh [post]
func (h *StatisticsHandler) Refresh(c *gin.Context) {
	profile, err := h.exams.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.statistics.RefreshExam(c.Request.Context(), profile)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"outcome": outcome.String()}, nil)
}

// RefreshRanks godoc
// @Summary Recompute standings for every student of an exam
// @Tags Statistics
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/ranks/refresh [post]
func (h *StatisticsHandler) RefreshRanks(c *gin.Context) {
	profile, err := h.exams.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.ranks.RefreshExam(c.Request.Context(), profile)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"outcome": outcome.String()}, nil)
}

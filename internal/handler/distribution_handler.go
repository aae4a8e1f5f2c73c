package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prime-exam-api/internal/service"
	"github.com/noah-isme/prime-exam-api/pkg/response"
)

// DistributionHandler exposes answer distribution endpoints.
type DistributionHandler struct {
	exams        *service.ExamService
	distribution *service.DistributionService
}

// NewDistributionHandler constructs DistributionHandler.
func NewDistributionHandler(exams *service.ExamService, distribution *service.DistributionService) *DistributionHandler {
	return &DistributionHandler{exams: exams, distribution: distribution}
}

// Problem godoc
// @Summary Answer distribution of one problem
// @Description Per-band choice tallies, selection rates and the crowd-predicted answer
// @Tags Distribution
// @Produce json
// @Param id path string true "Problem ID"
// @Success 200 {object} response.Envelope
// @Router /problems/{id}/distribution [get]
func (h *DistributionHandler) Problem(c *gin.Context) {
	view, err := h.distribution.ProblemDistribution(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Rebuild godoc
// @Summary Rebuild all distribution tallies of an exam
// @Tags Distribution
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/distribution/rebuild [post]
func (h *DistributionHandler) Rebuild(c *gin.Context) {
	profile, err := h.exams.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.distribution.RebuildExam(c.Request.Context(), profile); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "rebuilt"}, nil)
}

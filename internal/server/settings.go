package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
)

func (s *Server) GetRiskSettings(c *gin.Context) {
	resp, err := s.settingsSvc.Get(c.Request.Context(), merchantFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// UpdateRiskSettings applies a partial update; omitted fields keep their value.
func (s *Server) UpdateRiskSettings(c *gin.Context) {
	var req settingsdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.settingsSvc.Update(c.Request.Context(), merchantFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRiskStats(c *gin.Context) {
	resp, err := s.statsSvc.Get(c.Request.Context(), merchantFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	reportdomain "github.com/smallbiznis/costwatch/internal/report/domain"
)

type syncRequest struct {
	Days int `json:"days"`
}

// SyncUser runs one user's sync. An empty body uses the default window.
func (s *Server) SyncUser(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.syncSvc.Sync(c.Request.Context(), costsyncdomain.SyncRequest{
		UserID:     strings.TrimSpace(c.Param("user_id")),
		WindowDays: req.Days,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// RunAutoSync syncs every due user under the auto_sync run lock. A held lock
// answers 200 with skipped=true.
func (s *Server) RunAutoSync(c *gin.Context) {
	var req costsyncdomain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.MaxUsers < 0 || req.MinHoursSinceLastSync < 0 || req.Concurrency < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.syncSvc.SyncDue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RunWeeklyReport(c *gin.Context) {
	var req reportdomain.WeeklyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.MaxUsers < 0 || req.Concurrency < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.reportSvc.SendWeekly(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

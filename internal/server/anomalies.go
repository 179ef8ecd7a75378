package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
)

const defaultAnomalyLookbackDays = 30

type anomalyStatusRequest struct {
	Day       string `json:"day"`
	Dimension string `json:"dimension"`
	Status    string `json:"status"`
}

// ListAnomalies returns anomalies on or after ?since= (default 30 days back),
// optionally narrowed by repeated ?status= values.
func (s *Server) ListAnomalies(c *gin.Context) {
	since := strings.TrimSpace(c.Query("since"))
	if since == "" {
		since = s.clock.Now().UTC().AddDate(0, 0, -defaultAnomalyLookbackDays).Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, since); err != nil {
		AbortWithError(c, newValidationError("since", "invalid_date", "since must be YYYY-MM-DD"))
		return
	}

	var statuses []anomalydomain.Status
	for _, raw := range c.QueryArray("status") {
		status, ok := parseAnomalyStatus(raw)
		if !ok {
			AbortWithError(c, newValidationError("status", "invalid_status", "status must be open, acknowledged or resolved"))
			return
		}
		statuses = append(statuses, status)
	}

	items, err := s.anomalies.ListSince(c.Request.Context(), s.db, strings.TrimSpace(c.Param("user_id")), since, statuses...)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []anomalydomain.Anomaly{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// UpdateAnomalyStatus moves one anomaly through its triage lifecycle.
func (s *Server) UpdateAnomalyStatus(c *gin.Context) {
	var req anomalyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	day := strings.TrimSpace(req.Day)
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		AbortWithError(c, newValidationError("day", "invalid_date", "day must be YYYY-MM-DD"))
		return
	}
	dimension := strings.TrimSpace(req.Dimension)
	if dimension == "" {
		AbortWithError(c, newValidationError("dimension", "required", "dimension is required"))
		return
	}
	status, ok := parseAnomalyStatus(req.Status)
	if !ok {
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be open, acknowledged or resolved"))
		return
	}

	key := anomalydomain.Key{Day: day, Dimension: dimension}
	if err := s.anomalies.UpdateStatus(c.Request.Context(), s.db, strings.TrimSpace(c.Param("user_id")), key, status, s.clock.Now()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"day":       key.Day,
		"dimension": key.Dimension,
		"status":    status,
	}})
}

func parseAnomalyStatus(raw string) (anomalydomain.Status, bool) {
	switch status := anomalydomain.Status(strings.ToLower(strings.TrimSpace(raw))); status {
	case anomalydomain.StatusOpen, anomalydomain.StatusAcknowledged, anomalydomain.StatusResolved:
		return status, true
	default:
		return "", false
	}
}

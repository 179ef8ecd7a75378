package server

import (
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
)

const (
	defaultNotificationsLimit = 50
	maxNotificationsLimit     = 200
)

type preferencesRequest struct {
	Email               *string `json:"email"`
	EmailEnabled        *bool   `json:"email_enabled"`
	SlackChannelID      *string `json:"slack_channel_id"`
	SlackEnabled        *bool   `json:"slack_enabled"`
	WeeklyReportEnabled *bool   `json:"weekly_report_enabled"`
}

func (s *Server) GetNotificationPreferences(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	pref, err := s.preferences.Find(c.Request.Context(), s.db, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if pref == nil {
		pref = &notificationdomain.Preference{UserID: userID}
	}

	c.JSON(http.StatusOK, gin.H{"data": pref})
}

// PutNotificationPreferences patches the fields present in the body.
func (s *Server) PutNotificationPreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	userID := strings.TrimSpace(c.Param("user_id"))
	existing, err := s.preferences.Find(ctx, s.db, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := s.clock.Now()
	pref := notificationdomain.Preference{UserID: userID, CreatedAt: now}
	if existing != nil {
		pref = *existing
	}
	pref.UpdatedAt = now

	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				AbortWithError(c, newValidationError("email", "invalid_email", "invalid email address"))
				return
			}
		}
		pref.Email = email
	}
	if req.EmailEnabled != nil {
		pref.EmailEnabled = *req.EmailEnabled
	}
	if req.SlackChannelID != nil {
		pref.SlackChannelID = strings.TrimSpace(*req.SlackChannelID)
	}
	if req.SlackEnabled != nil {
		pref.SlackEnabled = *req.SlackEnabled
	}
	if req.WeeklyReportEnabled != nil {
		pref.WeeklyReportEnabled = *req.WeeklyReportEnabled
	}

	if err := s.preferences.Upsert(ctx, s.db, &pref); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pref})
}

// ListNotifications returns the user's most recently touched reservations.
func (s *Server) ListNotifications(c *gin.Context) {
	limit := defaultNotificationsLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxNotificationsLimit)
	}

	items, err := s.reservations.ListRecent(c.Request.Context(), s.db, strings.TrimSpace(c.Param("user_id")), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []notificationdomain.Reservation{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

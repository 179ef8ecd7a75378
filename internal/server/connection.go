package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
)

type connectRequest struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
}

type connectionResponse struct {
	UserID          string     `json:"user_id"`
	Provider        string     `json:"provider"`
	Status          string     `json:"status"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
}

func newConnectionResponse(conn connectiondomain.Connection) connectionResponse {
	return connectionResponse{
		UserID:          conn.UserID,
		Provider:        conn.Provider,
		Status:          string(conn.Status),
		LastValidatedAt: conn.LastValidatedAt,
		LastSyncAt:      conn.LastSyncAt,
		LastError:       conn.LastError,
	}
}

func (s *Server) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	conn, err := s.connSvc.Connect(c.Request.Context(), connectiondomain.ConnectRequest{
		UserID: strings.TrimSpace(c.Param("user_id")),
		Credentials: billing.Credentials{
			AccessKeyID:     strings.TrimSpace(req.AccessKeyID),
			SecretAccessKey: strings.TrimSpace(req.SecretAccessKey),
			Region:          strings.TrimSpace(req.Region),
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newConnectionResponse(conn)})
}

func (s *Server) GetConnection(c *gin.Context) {
	conn, err := s.connSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newConnectionResponse(conn)})
}

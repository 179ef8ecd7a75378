package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/connection/domain"
	"github.com/smallbiznis/costwatch/internal/credential"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Provider billing.Provider
	Store    *credential.Store
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	provider billing.Provider
	store    *credential.Store
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("connection.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		provider: p.Provider,
		store:    p.Store,
	}
}

func (s *Service) Connect(ctx context.Context, req domain.ConnectRequest) (domain.Connection, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Connection{}, domain.ErrInvalidUserID
	}
	creds := billing.Credentials{
		AccessKeyID:     strings.TrimSpace(req.Credentials.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(req.Credentials.SecretAccessKey),
		Region:          strings.TrimSpace(req.Credentials.Region),
	}
	if !creds.Valid() {
		return domain.Connection{}, domain.ErrInvalidCredentials
	}

	if err := s.provider.Ping(ctx, creds); err != nil {
		perr := billing.AsError(err)
		s.log.Info("connection.validate.failed",
			zap.String("user_id", userID),
			zap.String("code", string(perr.Code)),
		)
		return domain.Connection{}, perr
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return domain.Connection{}, err
	}
	token, err := s.store.Encrypt(plaintext)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("encrypt credentials: %w", err)
	}

	now := s.clock.Now()
	conn := domain.Connection{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Provider:        domain.ProviderAWS,
		CredentialToken: token,
		Status:          domain.StatusConnected,
		LastValidatedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Upsert(ctx, s.db, &conn); err != nil {
		return domain.Connection{}, err
	}

	stored, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Connection{}, err
	}
	if stored == nil {
		return domain.Connection{}, domain.ErrNotFound
	}
	s.log.Info("connection.connected", zap.String("user_id", userID))
	return *stored, nil
}

func (s *Service) Get(ctx context.Context, userID string) (domain.Connection, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Connection{}, domain.ErrInvalidUserID
	}
	conn, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Connection{}, err
	}
	if conn == nil {
		return domain.Connection{}, domain.ErrNotFound
	}
	return *conn, nil
}

// DecodeCredentials opens a stored credential token.
func DecodeCredentials(store *credential.Store, token string) (billing.Credentials, error) {
	plaintext, err := store.Decrypt(token)
	if err != nil {
		return billing.Credentials{}, err
	}
	var creds billing.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return billing.Credentials{}, credential.ErrDecrypt
	}
	if !creds.Valid() {
		return billing.Credentials{}, credential.ErrDecrypt
	}
	return creds, nil
}

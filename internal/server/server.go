package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	obsmiddleware "github.com/smallbiznis/costwatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/costwatch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/costwatch/internal/observability/tracing"
	"github.com/smallbiznis/costwatch/internal/ratelimit"
	reportdomain "github.com/smallbiznis/costwatch/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(httpMetrics)
}

func registerRoutes(s *Server) {
	s.RegisterRoutes()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http.server.start", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	connSvc      connectiondomain.Service
	syncSvc      costsyncdomain.Service
	reportSvc    reportdomain.Service
	preferences  notificationdomain.PreferenceRepository
	reservations notificationdomain.Repository
	anomalies    anomalydomain.Repository
	syncLimiter  *ratelimit.ManualSyncLimiter
	metrics      *obsmetrics.PipelineMetrics
}

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Connections  connectiondomain.Service
	Sync         costsyncdomain.Service
	Reports      reportdomain.Service
	Preferences  notificationdomain.PreferenceRepository
	Reservations notificationdomain.Repository
	Anomalies    anomalydomain.Repository
	SyncLimiter  *ratelimit.ManualSyncLimiter `optional:"true"`
	Metrics      *obsmetrics.PipelineMetrics  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Engine,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		clock:        p.Clock,
		connSvc:      p.Connections,
		syncSvc:      p.Sync,
		reportSvc:    p.Reports,
		preferences:  p.Preferences,
		reservations: p.Reservations,
		anomalies:    p.Anomalies,
		syncLimiter:  p.SyncLimiter,
		metrics:      p.Metrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterRoutes mounts the user and job triggers behind the cron secret.
func (s *Server) RegisterRoutes() {
	users := s.engine.Group("/v1/users/:user_id", s.CronAuthRequired())
	users.GET("/connection", s.GetConnection)
	users.POST("/connection", s.Connect)
	users.POST("/sync", s.ManualSyncRateLimit(), s.SyncUser)
	users.GET("/notification-preferences", s.GetNotificationPreferences)
	users.PUT("/notification-preferences", s.PutNotificationPreferences)
	users.GET("/notifications", s.ListNotifications)
	users.GET("/anomalies", s.ListAnomalies)
	users.PUT("/anomalies/status", s.UpdateAnomalyStatus)

	jobs := s.engine.Group("/internal/jobs", s.CronAuthRequired())
	jobs.POST("/auto-sync", s.RunAutoSync)
	jobs.POST("/weekly-report", s.RunWeeklyReport)
}

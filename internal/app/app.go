// Package app wires repositories, services and handlers into one graph shared
// by the API server and the ops CLI.
package app

import (
	"context"
	"net/http"
	"time"

	"merchantops/internal/config"
	"merchantops/internal/events"
	"merchantops/internal/handler"
	"merchantops/internal/metrics"
	"merchantops/internal/middleware"
	"merchantops/internal/permission"
	"merchantops/internal/repository"
	"merchantops/internal/service"
	"merchantops/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Log    zerolog.Logger

	Hub      *websocket.Hub
	Gate     *permission.RoleGate
	Registry *service.ActionRegistry
	Outbox   repository.OutboxRepository

	Approvals   service.ApprovalService
	Engine      *service.ExecutionEngine
	Ledger      service.LedgerService
	Withdrawals service.WithdrawalService
	Reconciler  *service.Reconciler
	Audit       service.AuditService
	Roles       service.RoleService
}

// New builds the dependency graph (Repository -> Service -> Handler). The hub
// is created but not started.
func New(cfg *config.Config, db *gorm.DB, log zerolog.Logger) *App {
	tx := repository.NewTransactionManager(db)
	approvalRepo := repository.NewApprovalRepository(db)
	execLogRepo := repository.NewExecutionLogRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	roleRepo := repository.NewRoleRepository(db)

	hub := websocket.NewHub(log.With().Str("component", "websocket").Logger())
	gate := permission.NewRoleGate(roleRepo, cfg.PermissionCacheTTL)
	publisher := events.Multi{
		events.NewAuditSink(auditRepo),
		events.NewHubSink(hub),
	}

	ledger := service.NewLedgerService(tx, walletRepo, ledgerRepo, orderRepo, publisher, cfg.Currency, log)
	registry := service.NewActionRegistry()
	service.RegisterDefaultActions(registry, ledger, outboxRepo)
	engine := service.NewExecutionEngine(tx, approvalRepo, execLogRepo, registry, publisher, log)

	return &App{
		Config:      cfg,
		DB:          db,
		Log:         log,
		Hub:         hub,
		Gate:        gate,
		Registry:    registry,
		Outbox:      outboxRepo,
		Approvals:   service.NewApprovalService(approvalRepo, execLogRepo, registry, gate, publisher, engine, log),
		Engine:      engine,
		Ledger:      ledger,
		Withdrawals: service.NewWithdrawalService(tx, walletRepo, withdrawalRepo, ledger, service.LogOTPSender{Log: log}, publisher, cfg.OTPTTL, cfg.Currency, log),
		Reconciler:  service.NewReconciler(tx, approvalRepo, execLogRepo, publisher, cfg.StuckExecutionAfter, log),
		Audit:       service.NewAuditService(auditRepo),
		Roles:       service.NewRoleService(tx, roleRepo, gate),
	}
}

// Router builds the gin engine with every route registered.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(a.Log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = a.Config.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.RequestIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	secret := []byte(a.Config.JWTSecret)
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(a.Hub, c, secret)
	})

	api := router.Group("", middleware.Authenticate(secret))
	handler.NewApprovalHandler(a.Approvals, a.Engine, a.Reconciler, a.Gate, a.Log).RegisterRoutes(api)
	handler.NewWalletHandler(a.Ledger, a.Withdrawals, a.Gate, a.Log).RegisterRoutes(api)
	handler.NewAuditHandler(a.Audit, a.Gate, a.Log).RegisterRoutes(api)
	handler.NewRoleHandler(a.Roles, a.Gate, a.Log).RegisterRoutes(api)

	return router
}

// WatchStuckExecutions refreshes the stuck executions gauge every interval
// until ctx is done.
func (a *App) WatchStuckExecutions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Reconciler.FindStuck(ctx, 0); err != nil {
				a.Log.Error().Err(err).Msg("stuck execution scan failed")
			}
		}
	}
}

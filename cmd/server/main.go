package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/config"
	"github.com/iliyamo/grow4bot/internal/database"
	"github.com/iliyamo/grow4bot/internal/handler"
	"github.com/iliyamo/grow4bot/internal/ledger"
	"github.com/iliyamo/grow4bot/internal/logger"
	"github.com/iliyamo/grow4bot/internal/middleware"
	"github.com/iliyamo/grow4bot/internal/queue"
	"github.com/iliyamo/grow4bot/internal/repository"
	"github.com/iliyamo/grow4bot/internal/router"
	"github.com/iliyamo/grow4bot/internal/service"
)

// stores groups the record store handles of the selected backend.
type stores struct {
	ledger       repository.Store
	users        repository.UserStore
	products     repository.ProductStore
	purchases    repository.PurchaseStore
	transactions repository.TransactionStore
	sessions     repository.SessionStore
	db           *sql.DB // nil for the memory backend
}

func main() {
	cfg := config.Load()

	zl, flush, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		zl.Fatal("open record store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	if st.db != nil {
		defer st.db.Close()
	}
	zl.Info("record store ready", zap.String("backend", cfg.StoreBackend))

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		if rdb, err = config.NewRedisClient(cfg.Redis); err != nil {
			zl.Warn("redis unavailable, rate limiting and caching disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer rdb.Close()
		}
	}

	var events ledger.Publisher
	if cfg.AMQPURL != "" {
		events = service.NewAMQPPublisher(cfg.AMQPURL, zl)
		if cfg.AuditConsumer {
			audit := logger.NewFile(cfg.AuditLogFile, cfg.Log)
			defer audit.Sync()
			consumer := queue.NewAuditConsumer(cfg.AMQPURL, zl, audit)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zl.Error("audit consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	led := ledger.New(st.ledger, events, zl, cfg.LedgerMaxAttempts)
	sessions := service.NewSessions(st.sessions, cfg.JWTSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)

	var purge handler.CachePurger
	if rdb != nil && cfg.Cache.Enabled {
		purge = func(ctx context.Context) error { return middleware.PurgeCache(ctx, rdb, cfg.Cache.Prefix) }
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(zl))
	e.Use(middleware.NewTokenBucket(cfg.RateLimit, rdb, zl))

	auth := middleware.RequireSession(sessions, st.users, cfg.SessionCookie, zl)

	// A nil *sql.DB must not reach Health as a non-nil Pinger.
	var health echo.HandlerFunc
	if st.db != nil {
		health = handler.Health(st.db)
	} else {
		health = handler.Health(nil)
	}
	router.RegisterRoutes(e, health)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, st.users, sessions, zl), auth)
	router.RegisterShop(e, &handler.ShopHandler{
		Ledger:       led,
		Products:     st.products,
		Purchases:    st.purchases,
		Transactions: st.transactions,
		Purge:        purge,
		Log:          zl,
	}, auth, middleware.NewRedisCache(cfg.Cache, rdb, zl))
	router.RegisterAdmin(e, &handler.AdminHandler{
		Ledger:   led,
		Users:    st.users,
		Products: st.products,
		Purge:    purge,
		Log:      zl,
	}, auth)

	addr := ":" + cfg.Port
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		m := repository.NewMemoryStore()
		return stores{
			ledger:       m,
			users:        m.Users(),
			products:     m.Products(),
			purchases:    m.Purchases(),
			transactions: m.Transactions(),
			sessions:     m.Sessions(),
		}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, err
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(migrateCtx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		ledger:       repository.NewMySQLStore(db),
		users:        repository.NewUserRepo(db),
		products:     repository.NewProductRepo(db),
		purchases:    repository.NewPurchaseRepo(db),
		transactions: repository.NewTransactionRepo(db),
		sessions:     repository.NewSessionRepo(db),
		db:           db,
	}, nil
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/saddle-fit/internal/auth"
	"github.com/example/saddle-fit/internal/config"
	"github.com/example/saddle-fit/internal/grpcclient"
	"github.com/example/saddle-fit/internal/handlers"
	"github.com/example/saddle-fit/internal/inference"
	"github.com/example/saddle-fit/internal/logging"
	"github.com/example/saddle-fit/internal/pose"
	"github.com/example/saddle-fit/internal/repository"
	"github.com/example/saddle-fit/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	detector, closeDetector := initDetector(ctx, cfg, logger)
	defer closeDetector()

	var opts []usecase.Option
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)
		redisCancel()
		defer redisClient.Close()
		opts = append(opts, usecase.WithLandmarkCache(usecase.NewRedisCache(redisClient), cfg.Redis.TTL))
		logger.Info("landmark cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}
	if cfg.Database.DSN != "" {
		db := initDatabase(ctx, cfg.Database.DSN, logger)
		repo := repository.NewAnalysisRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts = append(opts, usecase.WithHistory(repo))
		logger.Info("analysis history enabled")
	}

	uc := usecase.NewAnalysisUseCase(detector, logger, opts...)
	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Audience)

	r := newRouter(cfg, logger)
	handlers.RegisterRoutes(r, uc, verifier, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("saddle-fit API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(handlers.Recovery(logger), logging.AccessLog(logger))

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.ExposeHeaders = []string{logging.RequestIDHeader}
	r.Use(cors.New(corsCfg))
	return r
}

// initDetector picks the HTTP sidecar when a URL is configured and gRPC otherwise.
func initDetector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pose.Detector, func()) {
	var (
		detector pose.Detector
		closer   = func() {}
	)

	if cfg.Detector.URL != "" {
		client := inference.NewClient(cfg.Detector.URL, nil, logger)
		if err := client.CheckHealth(ctx); err != nil {
			logger.Warn("pose detector not available yet", zap.Error(err), zap.String("url", cfg.Detector.URL))
		}
		detector = client
	} else {
		client, conn, err := grpcclient.DialPoseDetector(ctx, cfg.Detector.GRPCAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to pose detector", zap.Error(err))
		}
		detector = client
		closer = func() { _ = conn.Close() }
	}

	if cfg.Detector.Serialize {
		detector = pose.Serialized(detector)
	}
	return detector, closer
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

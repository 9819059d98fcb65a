package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"rail-gateway/config"
	"rail-gateway/core"
	"rail-gateway/core/security"
	"rail-gateway/models"
	"rail-gateway/railway"
	"rail-gateway/telemetry"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	seal := flag.String("seal", "", "encrypt an API key with RAIL_KEYS_SECRET and print the enc: value")
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	if *seal != "" {
		if err := sealKey(os.Stdout, cfg.Keys.Secret, *seal); err != nil {
			log.Fatal("Failed to seal key: ", err)
		}
		return
	}

	closeLog, err := setupLogger(log, cfg.Log)
	if err != nil {
		log.Fatal("Failed to set up logging: ", err)
	}
	defer closeLog()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stdout, log)
		if err != nil {
			log.Fatal("Failed to initialize tracing: ", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				log.Errorf("Failed to flush traces: %v", err)
			}
		}()
	}

	keys := loadKeys(log, cfg.Keys)
	if len(keys) == 0 {
		// 不阻止启动：所有查询都会直接失败
		log.Error("API keys are not configured. Set RAIL_KEYS_LIST (or EXPO_PUBLIC_API_KEYS) to a comma separated list")
	} else {
		log.Infof("Loaded %d API keys", len(keys))
	}
	rotator := core.NewKeyRotator(keys)

	detector, err := core.NewQuotaDetector(cfg.Quota.Detector, cfg.Quota.Substring)
	if err != nil {
		log.Fatal("Invalid quota detector: ", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []core.Option{
		core.WithLogger(log),
		core.WithHTTPClient(core.NewHTTPClient(cfg.Upstream.Timeout)),
		core.WithQuotaDetector(detector),
		core.WithMetrics(core.NewMetrics(registry)),
	}

	var attempts *core.AsyncAttemptLogger
	if cfg.Storage.DSN != "" {
		db, err := initDatabase(cfg.Storage.DSN, log)
		if err != nil {
			log.Fatal("Failed to initialize database: ", err)
		}
		attempts = core.NewAsyncAttemptLogger(db, log)
		defer attempts.Close()
		opts = append(opts, core.WithRecorder(attempts))
	}

	client := core.NewRotatingClient(rotator, opts...)
	service := railway.NewService(client, cfg.Upstream.IRCTCBaseURL, cfg.Upstream.PNRBaseURL)

	var limiter *IPRateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = NewIPRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
		defer limiter.Stop()
	}

	engine := newEngine(&gateway{
		service:    service,
		rotator:    rotator,
		attempts:   attempts,
		logger:     log,
		metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		limiter:    limiter,
		adminToken: cfg.Admin.Token,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(engine, cfg.Tracing.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting Rail Gateway on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}

// setupLogger 按配置设置级别、格式以及可选的轮转文件输出
func setupLogger(log *logrus.Logger, cfg config.LogConfig) (func(), error) {
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(level)
	}
	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.File == "" {
		return func() {}, nil
	}
	rotator, err := core.NewLogRotator(cfg.File, cfg.MaxSizeMB)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return func() { rotator.Close() }, nil
}

// loadKeys 解析 Key 列表，配置了 secret 时解密 enc: 前缀的条目
func loadKeys(log *logrus.Logger, cfg config.KeysConfig) []string {
	keys := core.ParseKeyList(cfg.List)
	var sp core.SecretProvider
	if cfg.Secret != "" {
		p, err := security.NewAESSecretProvider(cfg.Secret)
		if err != nil {
			log.Errorf("Invalid keys secret: %v", err)
		} else {
			sp = p
		}
	}
	return core.DecryptKeys(keys, sp, log)
}

func sealKey(w io.Writer, secret, plaintext string) error {
	sp, err := security.NewAESSecretProvider(secret)
	if err != nil {
		return err
	}
	sealed, err := sp.Encrypt(plaintext)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, core.EncryptedKeyPrefix+sealed)
	return err
}

// initDatabase 打开尝试日志数据库并迁移
func initDatabase(dsn string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// sqlite 单写者；内存库在 shared cache 下多连接会互相锁表
	sqlDB.SetMaxOpenConns(1)

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database initialized successfully")
	return db, nil
}

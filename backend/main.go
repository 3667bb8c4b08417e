package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/urfave/cli/v2"

	"github.com/imalyk/go-mood-tagger/pkg/queue"
	"github.com/imalyk/go-mood-tagger/pkg/worker"
)

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		log.Fatalf("mood backend failed: %v", err)
	}
}

func newApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:  "mood-backend",
		Usage: "Accept images and queue them for mood tagging",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redis-url", Usage: "Redis connection URL", Value: "redis://localhost:6379", EnvVars: []string{"REDIS_URL"}},
			&cli.StringFlag{Name: "queue-name", Usage: "Job queue name", Value: worker.DefaultQueueName, EnvVars: []string{"QUEUE_NAME"}},
			&cli.StringFlag{Name: "http-addr", Usage: "API listen address", Value: ":8080", EnvVars: []string{"HTTP_ADDR"}},
			&cli.StringFlag{Name: "minio-endpoint", Usage: "MinIO endpoint, empty disables object submissions", EnvVars: []string{"MINIO_ENDPOINT"}},
			&cli.StringFlag{Name: "minio-access-key", Value: "minio", EnvVars: []string{"MINIO_ACCESS_KEY"}},
			&cli.StringFlag{Name: "minio-secret-key", Value: "minio123", EnvVars: []string{"MINIO_SECRET_KEY"}},
			&cli.BoolFlag{Name: "minio-use-ssl", EnvVars: []string{"MINIO_USE_SSL"}},
			&cli.StringFlag{Name: "minio-region", EnvVars: []string{"MINIO_REGION"}},
			&cli.Int64Flag{Name: "max-upload-bytes", Usage: "Largest accepted image", Value: 10 << 20, EnvVars: []string{"MAX_UPLOAD_BYTES"}},
			&cli.DurationFlag{Name: "wait-timeout", Usage: "How long ?wait=true waits for a result", Value: 60 * time.Second, EnvVars: []string{"WAIT_TIMEOUT"}},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
		},
		Action: action,
	}
}

type config struct {
	RedisURL       string
	QueueName      string
	ResultChannel  string
	HTTPAddr       string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	MaxUploadBytes int64
	WaitTimeout    time.Duration
	LogLevel       slog.Level
}

func loadConfig(c *cli.Context) config {
	logLevel := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(c.String("log-level"))) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	return config{
		RedisURL:       c.String("redis-url"),
		QueueName:      c.String("queue-name"),
		ResultChannel:  worker.DefaultResultChannel,
		HTTPAddr:       c.String("http-addr"),
		MinioEndpoint:  c.String("minio-endpoint"),
		MinioAccessKey: c.String("minio-access-key"),
		MinioSecretKey: c.String("minio-secret-key"),
		MinioUseSSL:    c.Bool("minio-use-ssl"),
		MinioRegion:    c.String("minio-region"),
		MaxUploadBytes: c.Int64("max-upload-bytes"),
		WaitTimeout:    c.Duration("wait-timeout"),
		LogLevel:       logLevel,
	}
}

func run(c *cli.Context) error {
	cfg := loadConfig(c)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", "mood-backend")
	slog.SetDefault(logger)

	q, err := queue.NewRedisQueue(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer q.Close()

	if err := q.Ping(c.Context); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var store ObjectStore
	if cfg.MinioEndpoint != "" {
		minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("minio connection: %w", err)
		}
		store = minioStore{client: minioClient}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newServer(cfg, q, store, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTPAddr, "queue", cfg.QueueName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

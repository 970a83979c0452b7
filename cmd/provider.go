package cmd

import (
	"context"
	"database/sql"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/repository"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

// buildEmailProvider returns the configured transport and a func releasing it.
func buildEmailProvider(ctx context.Context, cfg *config.Config) (provider.EmailProvider, func(), error) {
	switch cfg.EmailProvider {
	case "smtp":
		p := provider.NewSMTPProvider(provider.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			SSL:         cfg.SMTPSSL,
			Timeout:     cfg.SMTPTimeout,
			PoolSize:    cfg.SMTPPoolSize,
			IdleTimeout: cfg.SMTPIdleTimeout,
		})
		return p, func() { _ = p.Close() }, nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return provider.NewSESProvider(awsCfg, cfg.FromAddress), func() {}, nil
	case "noop":
		return provider.NewNoopProvider(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported EMAIL_PROVIDER: %s", cfg.EmailProvider)
	}
}

// buildDedupOptions connects the duplicate guard selected by DEDUP_BACKEND.
func buildDedupOptions(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) ([]service.Option, func(), error) {
	switch cfg.DedupBackend {
	case config.DedupRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("Using Redis message locks")
		opts := []service.Option{service.WithLocker(lock.NewRedisLocker(rdb), cfg.DedupLockTTL)}
		return opts, func() { _ = rdb.Close() }, nil

	case config.DedupMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MySQLMaxOpen)
		db.SetMaxIdleConns(cfg.MySQLMaxIdle)
		db.SetConnMaxLifetime(cfg.MySQLMaxLife)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		history := repository.NewEmailHistoryRepository(db)
		if err := history.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure email history schema: %w", err)
		}
		logger.Info("Using MySQL message locks and email history")
		opts := []service.Option{
			service.WithLocker(lock.NewMySQLLocker(db), cfg.DedupLockTTL),
			service.WithHistory(history),
		}
		return opts, func() { _ = db.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/deaddrop/internal/config"
	"github.com/kursadbilgin/deaddrop/internal/handler"
	"github.com/kursadbilgin/deaddrop/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/deaddrop/internal/infra/redis"
	"github.com/kursadbilgin/deaddrop/internal/queue"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// deps are the connections shared by the api and worker processes.
type deps struct {
	db        *gorm.DB
	rdb       *goredis.Client
	notes     *repository.GormNoteRepo
	scheduler *queue.RedisScheduler
}

func openDeps(cfg *config.Config, logger *zap.Logger) (*deps, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	policy, err := cfg.BackoffPolicy()
	if err != nil {
		return nil, err
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		_ = postgresql.Close(db)
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	scheduler, err := queue.NewRedisScheduler(rdb, cfg.QueueName, policy, cfg.VisibilityTimeout(), logger.Named("queue"))
	if err != nil {
		_ = rdb.Close()
		_ = postgresql.Close(db)
		return nil, err
	}

	return &deps{
		db:        db,
		rdb:       rdb,
		notes:     repository.NewGormNoteRepo(db),
		scheduler: scheduler,
	}, nil
}

func (d *deps) readinessChecks() map[string]handler.Check {
	return map[string]handler.Check{
		"postgres": func(ctx context.Context) error { return postgresql.Ping(ctx, d.db) },
		"redis":    func(ctx context.Context) error { return d.rdb.Ping(ctx).Err() },
	}
}

func (d *deps) Close() {
	_ = d.rdb.Close()
	_ = postgresql.Close(d.db)
}

package cache

import (
	"fmt"

	"github.com/erp/billing/internal/infrastructure/config"
	"go.uber.org/zap"
)

// JobLeaseFactory creates job leases based on configuration
type JobLeaseFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// JobLeaseFactoryOption is a functional option for configuring the factory
type JobLeaseFactoryOption func(*JobLeaseFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) JobLeaseFactoryOption {
	return func(f *JobLeaseFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory lease when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) JobLeaseFactoryOption {
	return func(f *JobLeaseFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewJobLeaseFactory creates a new factory
func NewJobLeaseFactory(cfg config.RedisConfig, opts ...JobLeaseFactoryOption) *JobLeaseFactory {
	f := &JobLeaseFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateLease returns a Redis lease when Redis is enabled and reachable, otherwise an
// in-memory lease if fallback is allowed.
// WARNING: in-memory leases are per process, so replicas may run the same slot.
// Ledger reference ids still keep that run from charging twice.
func (f *JobLeaseFactory) CreateLease() (JobLease, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory job lease")
		return NewInMemoryJobLease(), nil
	}

	lease, err := NewRedisJobLease(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis job lease")
		return lease, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for job leases but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory job lease. "+
		"Replicas may attempt the same job slot.",
		zap.Error(err),
	)
	return NewInMemoryJobLease(), nil
}

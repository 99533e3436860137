// Package redis builds the go-redis client used by the Redis Topic Bus.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
)

const defaultTimeout = 5 * time.Second

// Deployment topologies accepted in redis.mode.
const (
	ModeSingle   = "single"
	ModeSentinel = "sentinel"
	ModeCluster  = "cluster"
)

// ErrNoAddress is returned when redis.addrs is empty.
var ErrNoAddress = errors.New("redis: at least one address is required")

// Options translates edgewatch config into go-redis universal options.
//
// go-redis picks the topology itself: a master name selects Sentinel,
// several addresses select Cluster, one address is a standalone server.
// Mode only narrows the address list for single-node deployments.
func Options(cfg config.RedisConfig) (*goredis.UniversalOptions, error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoAddress
	}

	addrs := cfg.Addrs
	masterName := cfg.MasterName
	switch cfg.Mode {
	case ModeSentinel:
		if masterName == "" {
			return nil, fmt.Errorf("redis: sentinel mode requires master_name")
		}
	case ModeCluster:
		masterName = ""
	default:
		addrs = addrs[:1]
		masterName = ""
	}

	return &goredis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   masterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  defaultTimeout,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	}, nil
}

// Connect creates the client and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := goredis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

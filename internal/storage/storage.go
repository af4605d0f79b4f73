// Package storage persists the client's string-keyed state (the session token and user) so
// it survives restarts, the way a browser keeps it in local storage.
package storage

import (
	"context"

	"github.com/go-faster/errors"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Store is a flat key-value store. Get reports found=false for a missing key; Remove of a
// missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

type Options struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	SQLitePath    string `yaml:"sqlite_path"`
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return DialRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.KeyPrefix)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.SQLitePath)
	default:
		return nil, errors.Wrap(ErrUnknownBackend, opts.Backend)
	}
}

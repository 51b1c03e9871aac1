// Package redis provides a ledger.Persister that keeps the serialized state
// under a single Redis key with no expiry.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the client. Addr defaults to localhost:6379.
type Options struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Key      string
}

type Store struct {
	client *redis.Client
	key    string
}

// New connects and pings the server with a short timeout.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	var tlsConf *tls.Config
	if opts.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string) *Store {
	if key == "" {
		key = "tutor-ledger-state"
	}
	return &Store{client: client, key: key}
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	doc, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return doc, nil
}

func (s *Store) Save(ctx context.Context, doc []byte) error {
	if err := s.client.Set(ctx, s.key, doc, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

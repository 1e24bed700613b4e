package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
)

// RedisSinkConfig configures the Redis-backed publisher.
type RedisSinkConfig struct {
	Addr          string
	Password      string
	DB            int
	ListKey       string // LPUSH destination; defaults to "ravn:results"
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	BufferSize    int // local buffer retained while disconnected
}

// DefaultRedisSinkConfig mirrors the reconnect-with-backoff defaults
// used elsewhere in the pack for transient-failure retries.
func DefaultRedisSinkConfig(addr string) RedisSinkConfig {
	return RedisSinkConfig{
		Addr:          addr,
		ListKey:       "ravn:results",
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		BufferSize:    1024,
	}
}

// RedisSink publishes results via LPUSH on a Redis list. On publish
// failure the result is held in a bounded local buffer and retried on
// the next call rather than dropped immediately.
type RedisSink struct {
	cfg    RedisSinkConfig
	client *redis.Client

	mu      sync.Mutex
	pending []Record
}

// NewRedisSink connects to addr. Connection failures at construction
// time are not fatal: the client lazily reconnects on first use.
func NewRedisSink(cfg RedisSinkConfig) *RedisSink {
	if cfg.ListKey == "" {
		cfg.ListKey = "ravn:results"
	}
	if cfg.MaxAttempts <= 0 {
		d := DefaultRedisSinkConfig(cfg.Addr)
		cfg.MaxAttempts, cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor = d.MaxAttempts, d.InitialDelay, d.MaxDelay, d.BackoffFactor
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSink{cfg: cfg, client: client}
}

func (s *RedisSink) Publish(ctx context.Context, result scoring.Result) error {
	rec := toRecord(result)

	s.mu.Lock()
	s.pending = append(s.pending, rec)
	if len(s.pending) > s.cfg.BufferSize {
		s.pending = s.pending[len(s.pending)-s.cfg.BufferSize:]
	}
	backlog := append([]Record(nil), s.pending...)
	s.mu.Unlock()

	flushed, err := s.flush(ctx, backlog)

	s.mu.Lock()
	if flushed > 0 && flushed <= len(s.pending) {
		s.pending = s.pending[flushed:]
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// flush attempts to LPUSH every record in backlog, retrying the whole
// batch with exponential backoff, and returns how many records were
// confirmed pushed before giving up.
func (s *RedisSink) flush(ctx context.Context, backlog []Record) (int, error) {
	if len(backlog) == 0 {
		return 0, nil
	}

	delay := s.cfg.InitialDelay
	var lastErr error
	var lastN int
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		n, err := s.pushAll(pctx, backlog)
		cancel()
		if err == nil {
			return n, nil
		}
		lastErr, lastN = err, n
		if attempt < s.cfg.MaxAttempts-1 {
			log.Printf("[sink] redis publish attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.cfg.BackoffFactor)
			if delay > s.cfg.MaxDelay {
				delay = s.cfg.MaxDelay
			}
		}
	}
	return lastN, fmt.Errorf("failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *RedisSink) pushAll(ctx context.Context, backlog []Record) (int, error) {
	for i, rec := range backlog {
		payload, err := json.Marshal(rec)
		if err != nil {
			return i, fmt.Errorf("encode record: %w", err)
		}
		if err := s.client.LPush(ctx, s.cfg.ListKey, payload).Err(); err != nil {
			return i, err
		}
	}
	return len(backlog), nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

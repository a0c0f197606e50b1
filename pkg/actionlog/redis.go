package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisLog.
type RedisConfig struct {
	// Key is the Redis list holding the log. Defaults to "prescaler:actions".
	Key string
	// Capacity bounds both the in-memory ring and the Redis list.
	Capacity int
	// Buffer is the number of entries that may wait for persistence before
	// new ones are dropped. Defaults to 256.
	Buffer int
	// Dropped, when set, counts entries that were not persisted.
	Dropped prometheus.Counter
	Logger  *slog.Logger
}

// RedisLog serves reads from an in-memory ring and persists appends to a
// Redis list in the background. A slow or unavailable Redis never blocks or
// fails Append: entries that cannot be queued or written are dropped from
// persistence, logged and counted, but remain visible in memory.
type RedisLog struct {
	mem    *MemoryLog
	client *redis.Client
	key    string
	max    int64

	dropped prometheus.Counter
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// NewRedisLog restores the newest Capacity entries from Redis and starts the
// persistence goroutine. Close must be called to flush pending writes.
func NewRedisLog(ctx context.Context, client *redis.Client, cfg RedisConfig) (*RedisLog, error) {
	if cfg.Key == "" {
		cfg.Key = "prescaler:actions"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &RedisLog{
		mem:     NewMemoryLog(cfg.Capacity),
		client:  client,
		key:     cfg.Key,
		max:     int64(cfg.Capacity),
		dropped: cfg.Dropped,
		logger:  cfg.Logger.With("component", "actionlog", "key", cfg.Key),
		queue:   make(chan Entry, cfg.Buffer),
		done:    make(chan struct{}),
	}

	if err := l.load(ctx); err != nil {
		return nil, err
	}

	go l.run()
	return l, nil
}

func (l *RedisLog) load(ctx context.Context) error {
	raw, err := l.client.LRange(ctx, l.key, -l.max, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to load action log from redis: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			l.logger.Warn("skipping malformed action log entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	l.mem.restore(entries)

	l.logger.Info("restored action log", "entries", len(entries))
	return nil
}

// Append records e in memory and queues it for persistence.
func (l *RedisLog) Append(ctx context.Context, e Entry) Entry {
	e = l.mem.Append(ctx, e)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.drop(e, "log closed")
		return e
	}
	select {
	case l.queue <- e:
	default:
		l.drop(e, "persistence queue full")
	}
	return e
}

// Recent returns up to n newest entries, oldest first.
func (l *RedisLog) Recent(n int) []Entry {
	return l.mem.Recent(n)
}

// Len returns the number of entries held in memory.
func (l *RedisLog) Len() int {
	return l.mem.Len()
}

func (l *RedisLog) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.persist(e); err != nil {
			l.drop(e, err.Error())
		}
	}
}

func (l *RedisLog) persist(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, -l.max, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (l *RedisLog) drop(e Entry, reason string) {
	l.logger.Warn("action log entry not persisted",
		"seq", e.Seq,
		"workload", e.Workload,
		"reason", reason,
	)
	if l.dropped != nil {
		l.dropped.Inc()
	}
}

// Close stops accepting persistence work, waits for queued entries to be
// written and closes the Redis client. Safe to call more than once.
func (l *RedisLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return l.client.Close()
}

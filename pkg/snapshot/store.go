package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long snapshots are kept when the store is given no TTL.
const DefaultTTL = 24 * time.Hour

// Sentinel durations go-redis reports for TTL on missing and persistent keys.
const (
	missingKeyTTL = time.Duration(-2)
	noExpiryTTL   = time.Duration(-1)
)

var (
	// ErrNotFound indicates no snapshot exists under the key
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidEntry indicates the stored value could not be decoded
	ErrInvalidEntry = errors.New("invalid snapshot entry")
)

// Store saves and loads snapshots in Redis.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a store. ttl <= 0 selects DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Save writes the entry under its run key and as the dataset's latest
// snapshot. Both keys are written in one transaction.
func (s *Store) Save(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Table == nil {
		return fmt.Errorf("snapshot entry cannot be nil")
	}
	if !entry.Dataset.Valid() {
		return fmt.Errorf("%w: %q", dataset.ErrUnknownDataset, string(entry.Dataset))
	}
	if entry.RunID == "" {
		return fmt.Errorf("snapshot entry has no run id")
	}

	entry.CreatedAt = s.now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		Operations.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entry.Key().String(), data, s.ttl)
		pipe.Set(ctx, entry.Key().Latest().String(), data, s.ttl)
		return nil
	})
	if err != nil {
		Operations.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	Operations.WithLabelValues("save", "ok").Inc()
	Size.WithLabelValues(entry.Dataset.String()).Set(float64(len(data)))

	return nil
}

// Get loads the snapshot stored under key.
// Returns ErrNotFound if the key doesn't exist or has expired.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			Operations.WithLabelValues("get", "miss").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		Operations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Operations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	Operations.WithLabelValues("get", "ok").Inc()
	return &entry, nil
}

// Latest loads the most recently saved snapshot of a dataset.
func (s *Store) Latest(ctx context.Context, d dataset.Dataset) (*Entry, error) {
	return s.Get(ctx, Key{Dataset: d})
}

// Delete removes a snapshot. Deleting a run key also removes the dataset's
// latest key when it still points at that run, so Latest never returns a
// deleted run. Deleting the latest key leaves the run key in place.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if key.RunID == "" {
		if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
			Operations.WithLabelValues("delete", "error").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
		Operations.WithLabelValues("delete", "ok").Inc()
		return nil
	}

	latest := key.Latest().String()
	txf := func(tx *redis.Tx) error {
		dropLatest := false
		data, err := tx.Get(ctx, latest).Bytes()
		switch {
		case err == nil:
			var current Entry
			dropLatest = json.Unmarshal(data, &current) == nil && current.RunID == key.RunID
		case !errors.Is(err, redis.Nil):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key.String())
			if dropLatest {
				pipe.Del(ctx, latest)
			}
			return nil
		})
		return err
	}

	if err := s.redis.Watch(ctx, txf, latest); err != nil {
		Operations.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	Operations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// TTL returns the remaining lifetime of a stored snapshot.
func (s *Store) TTL(ctx context.Context, key Key) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, key.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	switch ttl {
	case missingKeyTTL:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	case noExpiryTTL:
		return 0, nil
	}
	return ttl, nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KV is a Store backed by JetStream key/value buckets, one bucket per hash.
// Presence entries do not outlive the broker, so buckets use memory storage
// with single-entry history.
type KV struct {
	js jetstream.JetStream

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewKV builds a KV store over an established NATS connection.
func NewKV(nc *nats.Conn) (*KV, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("registry: create jetstream context: %w", err)
	}
	return &KV{js: js, buckets: make(map[string]jetstream.KeyValue)}, nil
}

func (s *KV) bucket(ctx context.Context, hash string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.buckets[hash]; ok {
		return kv, nil
	}
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  hash,
		History: 1,
		Storage: jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: bind bucket %s: %w", hash, err)
	}
	slog.Info("Bound registry KV bucket", "bucket", hash)
	s.buckets[hash] = kv
	return kv, nil
}

// SetField upserts key→value in the hash.
func (s *KV) SetField(ctx context.Context, hash, key, value string) error {
	kv, err := s.bucket(ctx, hash)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("registry: put %s/%s: %w", hash, key, err)
	}
	return nil
}

// Fields reads the full hash back, sorted by userId. An empty hash is a
// valid snapshot, not an error.
func (s *KV) Fields(ctx context.Context, hash string) ([]OnlineUser, error) {
	kv, err := s.bucket(ctx, hash)
	if err != nil {
		return nil, err
	}
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []OnlineUser{}, nil
		}
		return nil, fmt.Errorf("registry: list %s: %w", hash, err)
	}
	defer lister.Stop()
	users := []OnlineUser{}
	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue // deleted between list and get
			}
			return nil, fmt.Errorf("registry: get %s/%s: %w", hash, key, err)
		}
		users = append(users, OnlineUser{UserID: key, FullName: string(entry.Value())})
	}
	return sortUsers(users), nil
}

// DeleteField removes key from the hash. Deleting an absent key is a no-op.
func (s *KV) DeleteField(ctx context.Context, hash, key string) error {
	kv, err := s.bucket(ctx, hash)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("registry: delete %s/%s: %w", hash, key, err)
	}
	return nil
}

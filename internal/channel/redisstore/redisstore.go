// Package redisstore implements the mirror durable channel on Redis.
//
// The mirror store is the one channel that can live off-box: a Redis
// instance shared by every engine process on the machine (or beyond). It is
// still just a channel — unversioned, no locks — and gets no special
// treatment from the replicator beyond its slot in the priority order.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/rewards-engine/internal/apperror"
)

// Store implements channel.Adapter over a Redis client. Keys are namespaced
// so several deployments can share one Redis database.
type Store struct {
	client    *redis.Client
	namespace string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int, namespace string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperror.Unavailable("redis", err)
	}
	return &Store{client: client, namespace: namespace}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership and is
// responsible for closing it.
func NewWithClient(client *redis.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Name() string { return "redis" }

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.NotFound("key", key)
		}
		return nil, apperror.Unavailable(s.Name(), err)
	}
	return raw, nil
}

// Set stores the value without expiry. Channel contents are replicas of
// durable state, not cache entries, so nothing here should age out.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return apperror.Unavailable(s.Name(), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return apperror.Unavailable(s.Name(), err)
	}
	return nil
}

// Keys enumerates stored keys with the given prefix using SCAN, so a large
// keyspace never blocks the server the way KEYS would.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if s.namespace != "" {
			k = k[len(s.namespace)+1:]
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.Unavailable(s.Name(), err)
	}
	return keys, nil
}

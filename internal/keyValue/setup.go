package keyValue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type value struct {
	value   string
	expires time.Time
}

// Store is a small expiring key/value cache. Without a redis client it keeps
// values in a local map, which is only correct for a single server process.
type Store struct {
	sugar       *zap.SugaredLogger
	redisClient *redis.Client

	mutex   sync.RWMutex
	hashmap map[string]value
	stop    chan struct{}
	once    sync.Once
}

func NewLocal(sugar *zap.SugaredLogger) *Store {
	s := &Store{
		sugar:   sugar,
		hashmap: make(map[string]value),
		stop:    make(chan struct{}),
	}
	go s.checkForLocalExpiredKeys(time.Minute)
	return s
}

func NewRedis(sugar *zap.SugaredLogger, redisClient *redis.Client) *Store {
	return &Store{
		sugar:       sugar,
		redisClient: redisClient,
		stop:        make(chan struct{}),
	}
}

func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}

func (s *Store) checkForLocalExpiredKeys(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mutex.Lock()
			for key, v := range s.hashmap {
				if v.expires.Before(now) {
					delete(s.hashmap, key)
				}
			}
			s.mutex.Unlock()
		}
	}
}

// Get returns "" when the key is missing or expired.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.redisClient == nil {
		s.sugar.Debugf("Getting value of key [%s] from hashmap", key)

		s.mutex.RLock()
		defer s.mutex.RUnlock()

		v, ok := s.hashmap[key]
		if !ok || v.expires.Before(time.Now()) {
			return "", nil
		}
		return v.value, nil
	}

	s.sugar.Debugf("Getting value of key [%s] from redis", key)

	value, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, val string, expires time.Duration) error {
	if s.redisClient == nil {
		s.sugar.Debugf("Setting value of key [%s] to [%s] in hashmap", key, val)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.hashmap[key] = value{val, time.Now().Add(expires)}
		return nil
	}

	s.sugar.Debugf("Setting value of key [%s] to [%s] in redis", key, val)
	return s.redisClient.Set(ctx, key, val, expires).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.redisClient == nil {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		delete(s.hashmap, key)
		return nil
	}

	return s.redisClient.Del(ctx, key).Err()
}

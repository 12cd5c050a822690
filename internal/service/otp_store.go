package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTPStore es el almacen efimero de hashes de OTP con expiracion.
// Una clave ausente o vencida es indistinguible de una nunca emitida.
type OTPStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete borra la clave solo si su valor coincide, de forma atomica.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryOTPStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryOTPStore sirve para un unico proceso; sin Redis los OTP no sobreviven a un reinicio.
func NewMemoryOTPStore() OTPStore {
	return newMemoryOTPStore(func() time.Time { return time.Now().UTC() })
}

func newMemoryOTPStore(now func() time.Time) *memoryOTPStore {
	return &memoryOTPStore{
		items: make(map[string]memoryEntry),
		now:   now,
	}
}

func (s *memoryOTPStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("otp store: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memoryOTPStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *memoryOTPStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *memoryOTPStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.value), []byte(value)) != 1 {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// live requiere s.mu tomado. Las entradas vencidas se purgan al leerlas.
func (s *memoryOTPStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.items, key)
		return memoryEntry{}, false
	}
	return entry, true
}

const redisCompareAndDeleteScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisOTPStore struct {
	client  redisKV
	timeout time.Duration
}

func NewRedisOTPStore(client *redis.Client) OTPStore {
	if client == nil {
		return nil
	}
	return &redisOTPStore{
		client:  client,
		timeout: 500 * time.Millisecond,
	}
}

func (s *redisOTPStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("otp store: empty key")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisOTPStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisOTPStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

func (s *redisOTPStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Eval(ctx, redisCompareAndDeleteScript, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by a Store that has no token saved.
var ErrNotFound = errors.New("session: no stored credential")

// Store is a durable medium for the token.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

type record struct {
	Token   string    `msgpack:"token"`
	SavedAt time.Time `msgpack:"saved_at"`
}

func encodeRecord(token string) ([]byte, error) {
	return msgpack.Marshal(record{Token: token, SavedAt: time.Now().UTC()})
}

func decodeRecord(b []byte) (string, error) {
	var r record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return "", fmt.Errorf("decode stored credential: %w", err)
	}
	if r.Token == "" {
		return "", ErrNotFound
	}
	return r.Token, nil
}

// MemoryStore keeps the encoded record in process memory. Two holders
// sharing one MemoryStore behave like two page loads sharing a browser.
type MemoryStore struct {
	mu  sync.Mutex
	buf []byte
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return "", ErrNotFound
	}
	return decodeRecord(s.buf)
}

func (s *MemoryStore) Save(_ context.Context, token string) error {
	b, err := encodeRecord(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.buf = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	return nil
}

// FileStore keeps the record in a single file readable only by the owner.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore at path, or at DefaultFilePath if path is empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

// DefaultFilePath is <user config dir>/orderbook/session.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(dir, "orderbook", "session"), nil
}

func (s *FileStore) Load(_ context.Context) (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return decodeRecord(b)
}

func (s *FileStore) Save(_ context.Context, token string) error {
	b, err := encodeRecord(token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Delete(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisStore keeps the record under a single redis key.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisStoreOpts configures a RedisStore.
type RedisStoreOpts struct {
	// Key defaults to "orderbook:session".
	Key string
	// TTL of the stored record. Zero keeps it until deleted.
	TTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, opts RedisStoreOpts) *RedisStore {
	if opts.Key == "" {
		opts.Key = "orderbook:session"
	}
	return &RedisStore{client: client, key: opts.Key, ttl: opts.TTL}
}

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(b)
}

func (s *RedisStore) Save(ctx context.Context, token string) error {
	b, err := encodeRecord(token)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

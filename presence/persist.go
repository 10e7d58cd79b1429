package presence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SessionStore 会话级持久化：同一会话内重启可恢复本地身份
type SessionStore interface {
	Load(ctx context.Context, key string) (Identity, error)
	Save(ctx context.Context, key string, id Identity) error
}

// OpenSessionStore 按配置创建会话存储；返回的 close 函数总是非 nil
func OpenSessionStore(ctx context.Context, cfg SessionConfig) (SessionStore, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		rs, err := NewRedisStore(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, func() {}, err
		}
		return rs, func() { _ = rs.Close() }, nil
	case "memory":
		return NewMemoryStore(), func() {}, nil
	default:
		return NewFileStore(cfg.Dir), func() {}, nil
	}
}

// FileStore 每个会话 key 一个 yaml 文件
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".yaml")
}

func (s *FileStore) Load(_ context.Context, key string) (Identity, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, storeError(err, "file", key)
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return Identity{}, storeError(err, "file", key)
	}
	return loaded(id)
}

// loaded 没有 id 的记录等同于不存在，所有后端一致
func loaded(id Identity) (Identity, error) {
	if id.ID == "" {
		return Identity{}, ErrIdentityNotFound
	}
	return id, nil
}

func (s *FileStore) Save(_ context.Context, key string, id Identity) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storeError(err, "file", key)
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return storeError(err, "file", key)
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storeError(err, "file", key)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return storeError(err, "file", key)
	}
	return nil
}

// MemoryStore 进程内存储，用于测试与 simload
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Identity)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data[key]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	id.Hidden = append([]string(nil), id.Hidden...)
	return id, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id.Hidden = append([]string(nil), id.Hidden...)
	s.data[key] = id
	return nil
}

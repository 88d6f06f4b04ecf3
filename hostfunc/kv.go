package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 1 << 20 // 1MB
	DefaultKVMaxEntries   = 10000
)

type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KV is an in-memory key-value store exposed as kv_get(key[, default]),
// kv_set(key, value), kv_delete(key) and kv_keys().
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg, data: make(map[string]any)}
}

func (s *KV) Get(ctx context.Context, args []any) (any, error) {
	key, err := String(args, 0)
	if err != nil {
		return nil, errors.New("key required")
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		if len(args) > 1 {
			return args[1], nil
		}
		return nil, nil
	}
	return val, nil
}

func (s *KV) Set(ctx context.Context, args []any) (any, error) {
	key, err := String(args, 0)
	if err != nil {
		return nil, errors.New("key required")
	}
	if len(args) < 2 {
		return nil, errors.New("value required")
	}
	val := args[1]

	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds max size (%d)", s.cfg.MaxKeySize)
	}
	if s.cfg.MaxValueSize > 0 {
		encoded, err := sonic.ConfigStd.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("value not serializable: %w", err)
		}
		if len(encoded) > s.cfg.MaxValueSize {
			return nil, fmt.Errorf("value exceeds max size (%d)", s.cfg.MaxValueSize)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("kv store full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args []any) (any, error) {
	key, err := String(args, 0)
	if err != nil {
		return nil, errors.New("key required")
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

func (s *KV) Keys(ctx context.Context, args []any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Install registers the kv_* functions on r.
func (s *KV) Install(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}

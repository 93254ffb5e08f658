package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// memEntry holds one key's state. Exactly one of value/hash/set is used,
// mirroring Redis type-per-key semantics.
type memEntry struct {
	value     string
	hash      map[string]string
	set       map[string]struct{}
	expiresAt time.Time // zero = no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process fallback Store for single-instance
// deployments without Redis. All mutations run under one mutex so the
// atomicity contracts (SetNX, SAdd newness, AddVote) hold within the
// process; there is no cross-instance consistency in this mode.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memEntry
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates an in-memory store with a background sweeper
// evicting expired keys.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]*memEntry),
		stop:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.items {
				if e.expired(now) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// live returns the entry for key, evicting it first when expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(s.items, key)
		return nil
	}
	return e
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &memEntry{value: value, expiresAt: deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key) != nil {
		return false, nil
	}
	s.items[key] = &memEntry{value: value, expiresAt: deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key); e != nil {
		e.expiresAt = deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(key, delta)
}

func (s *MemoryStore) incrLocked(key string, delta int64) (int64, error) {
	e := s.live(key)
	if e == nil {
		e = &memEntry{}
		s.items[key] = e
	}
	n, err := parseInt(e.value)
	if err != nil {
		return 0, err
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		e = &memEntry{hash: make(map[string]string)}
		s.items[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	if e := s.live(key); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hincrLocked(key, field, delta)
}

func (s *MemoryStore) hincrLocked(key, field string, delta int64) (int64, error) {
	e := s.live(key)
	if e == nil {
		e = &memEntry{hash: make(map[string]string)}
		s.items[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	n, err := parseInt(e.hash[field])
	if err != nil {
		return 0, err
	}
	n += delta
	e.hash[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added, _ := s.saddLocked(key, member)
	return added, nil
}

func (s *MemoryStore) saddLocked(key, member string) (bool, *memEntry) {
	e := s.live(key)
	if e == nil {
		e = &memEntry{set: make(map[string]struct{})}
		s.items[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	if _, ok := e.set[member]; ok {
		return false, e
	}
	e.set[member] = struct{}{}
	return true, e
}

func (s *MemoryStore) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key); e != nil {
		delete(e.set, member)
		if len(e.set) == 0 {
			delete(s.items, key)
		}
	}
	return nil
}

func (s *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

// AddVote runs the whole accept-vote sequence under the store mutex,
// matching the atomicity of the Redis script.
func (s *MemoryStore) AddVote(_ context.Context, keys VoteKeys, voter, option string, correct bool, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added, e := s.saddLocked(keys.Voters, voter)
	if !added {
		return false, nil
	}
	if ttl > 0 {
		e.expiresAt = deadline(ttl)
	}
	if _, err := s.incrLocked(keys.Total, 1); err != nil {
		return false, err
	}
	if _, err := s.hincrLocked(keys.Options, option, 1); err != nil {
		return false, err
	}
	if correct {
		if _, err := s.incrLocked(keys.Correct, 1); err != nil {
			return false, err
		}
	}
	return true, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value is not an integer: %q", s)
	}
	return n, nil
}

package store

import (
	"fmt"
	"time"
)

// NoExpiry is the TTL reported for keys stored without one.
const NoExpiry time.Duration = -1

// expire deletes key if it is still expired once the write lock is held;
// a concurrent Set may have replaced it in the meantime.
func (s *Store) expire(key string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	e, ok := s.index.Get(key)
	if !ok || !e.Expired(s.now()) {
		return
	}
	s.removeLocked(key)
	s.stats.AddExpired(1)
	s.log.Debug().Str("key", key).Int64("expires_at", e.ExpiresAt).Msg("expired on read")
}

// Cleanup deletes every expired entry and returns how many were removed.
// The value log is not compacted.
func (s *Store) Cleanup() (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	n := s.cleanupLocked()
	s.log.Info().Int("removed", n).Msg("cleanup")
	return n, nil
}

func (s *Store) cleanupLocked() int {
	expired := s.index.Expired(s.now())
	for _, key := range expired {
		s.removeLocked(key)
	}
	s.stats.AddExpired(len(expired))
	return len(expired)
}

// TTL returns the remaining lifetime of key, or NoExpiry if it never expires.
// ok is false if the key does not exist or has expired.
func (s *Store) TTL(key string) (ttl time.Duration, ok bool, err error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, false, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	e, found := s.index.Get(key)
	now := s.now()
	s.mu.RUnlock()

	switch {
	case !found:
		return 0, false, nil
	case e.Expired(now):
		s.expire(key)
		return 0, false, nil
	case e.ExpiresAt == 0:
		return NoExpiry, true, nil
	default:
		return time.Duration(e.ExpiresAt-now) * time.Second, true, nil
	}
}

// Touch resets the expiry of key to ttl from now without rewriting its value.
// ttl <= 0 removes the expiry. It reports whether the key was live.
func (s *Store) Touch(key string, ttl time.Duration) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	e, ok := s.index.Get(key)
	if !ok {
		return false, nil
	}
	now := s.now()
	if e.Expired(now) {
		s.removeLocked(key)
		s.stats.AddExpired(1)
		return false, nil
	}
	e.ExpiresAt = expiresAt(now, ttl)
	s.index.update(key, e)
	return true, nil
}

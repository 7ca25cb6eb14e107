// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package store implements the key/value mapping with per-key expiry and
// heterogeneous value kinds (string, stream, none).
package store

import (
	"errors"
	"strconv"
	"sync"

	"github.com/nishisan-dev/kvstreamd/internal/stream"
)

// Kind tags a value record's payload shape.
type Kind string

const (
	KindString Kind = "string"
	KindStream Kind = "stream"
	KindNone   Kind = "none"
)

// NoExpiry is the sentinel ExpiryMs value meaning "never expires".
const NoExpiry int64 = -1

// Record is one stored value. A Record with Kind == KindNone is never
// actually stored — it is the sentinel returned to callers on a miss.
type Record struct {
	Kind     Kind
	Bytes    []byte
	Stream   *stream.Stream
	ExpiryMs int64
}

// None is the sentinel record returned for absent or expired keys.
var None = Record{Kind: KindNone, ExpiryMs: NoExpiry}

// ErrNotInteger is returned by Incr when the stored payload cannot be
// parsed as a signed base-10 integer. Its text is the exact wire message
// clients expect.
var ErrNotInteger = errors.New("ERR value is not an integer or out of range")

// Store is the key → value mapping. It is safe for concurrent use; every
// mutating command runs under a single mutex so no two mutations are ever
// observed interleaved, even though connections are handled on separate
// goroutines (see DESIGN.md).
type Store struct {
	mu   sync.Mutex
	data map[string]*Record
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]*Record)}
}

func (s *Store) expiredLocked(r *Record, nowMs int64) bool {
	return r.ExpiryMs != NoExpiry && nowMs > r.ExpiryMs
}

// Get returns the record for key, or None on a miss. A record whose
// deadline has passed at nowMs is deleted and None is returned.
func (s *Store) Get(key []byte, nowMs int64) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, nowMs)
}

func (s *Store) getLocked(key []byte, nowMs int64) Record {
	k := string(key)
	r, ok := s.data[k]
	if !ok {
		return None
	}
	if s.expiredLocked(r, nowMs) {
		delete(s.data, k)
		return None
	}
	return *r
}

// Set writes key=value. If ttlMs is non-nil, expiry is nowMs+*ttlMs,
// otherwise the key never expires.
func (s *Store) Set(key, value []byte, nowMs int64, ttlMs *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry := NoExpiry
	if ttlMs != nil {
		expiry = nowMs + *ttlMs
	}
	payload := make([]byte, len(value))
	copy(payload, value)
	s.data[string(key)] = &Record{Kind: KindString, Bytes: payload, ExpiryMs: expiry}
}

// Incr increments the integer value at key, creating it as "1" if
// absent. It fails with ErrNotInteger if the stored payload does not
// parse as a signed base-10 integer.
func (s *Store) Incr(key []byte, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(key)
	r := s.getLocked(key, nowMs)
	if r.Kind == KindNone {
		s.data[k] = &Record{Kind: KindString, Bytes: []byte("1"), ExpiryMs: NoExpiry}
		return 1, nil
	}
	if r.Kind != KindString {
		return 0, ErrNotInteger
	}
	n, err := strconv.ParseInt(string(r.Bytes), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	encoded := strconv.FormatInt(n, 10)
	s.data[k] = &Record{Kind: KindString, Bytes: []byte(encoded), ExpiryMs: r.ExpiryMs}
	return n, nil
}

// Type returns the kind tag for key, applying lazy expiry.
func (s *Store) Type(key []byte, nowMs int64) Kind {
	return s.Get(key, nowMs).Kind
}

// StreamFor returns the stream instance for key, creating an empty
// stream (kind=stream, no expiry) if the key is absent. It fails if the
// key holds a non-stream value.
func (s *Store) StreamFor(key []byte, nowMs int64) (*stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(key)
	r := s.getLocked(key, nowMs)
	if r.Kind == KindStream {
		return r.Stream, nil
	}
	if r.Kind != KindNone {
		return nil, errors.New("store: key holds a non-stream value")
	}
	st := stream.New()
	s.data[k] = &Record{Kind: KindStream, Stream: st, ExpiryMs: NoExpiry}
	return st, nil
}

// GetStream returns the stream instance for key without creating one.
// The second result is false on a miss or a non-stream key.
func (s *Store) GetStream(key []byte, nowMs int64) (*stream.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getLocked(key, nowMs)
	if r.Kind != KindStream {
		return nil, false
	}
	return r.Stream, true
}

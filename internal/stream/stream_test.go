// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"testing"
	"time"
)

func fields(kv ...string) []Field {
	var out []Field
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Field{Key: []byte(kv[i]), Value: []byte(kv[i+1])})
	}
	return out
}

func TestAppend_WildcardSeq(t *testing.T) {
	// S4 / property 6: wildcard seq semantics on an empty stream.
	s := New()

	id, err := s.Append("0-*", fields("k", "v"), 1000)
	if err != nil {
		t.Fatalf("Append 0-*: %v", err)
	}
	if id != (ID{Ms: 0, Seq: 1}) {
		t.Fatalf("expected 0-1, got %s", id)
	}

	id, err = s.Append("1-*", fields("k", "v"), 1000)
	if err != nil {
		t.Fatalf("Append 1-*: %v", err)
	}
	if id != (ID{Ms: 1, Seq: 0}) {
		t.Fatalf("expected 1-0, got %s", id)
	}

	id, err = s.Append("1-*", fields("k", "v"), 1000)
	if err != nil {
		t.Fatalf("Append 1-*: %v", err)
	}
	if id != (ID{Ms: 1, Seq: 1}) {
		t.Fatalf("expected 1-1, got %s", id)
	}
}

func TestAppend_RejectsZeroAndNonIncreasing(t *testing.T) {
	s := New()
	if _, err := s.Append("0-0", fields(), 1); err == nil {
		t.Fatal("expected error for 0-0")
	} else if ve, ok := err.(*ValidationError); !ok || ve.Text != ErrTextNotGreaterThanZero {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Append("5-0", fields(), 1); err != nil {
		t.Fatalf("Append 5-0: %v", err)
	}
	if _, err := s.Append("5-0", fields(), 1); err == nil {
		t.Fatal("expected error for non-increasing id")
	} else if ve, ok := err.(*ValidationError); !ok || ve.Text != ErrTextNotGreaterThanTop {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Append("4-999", fields(), 1); err == nil {
		t.Fatal("expected error for id smaller than top")
	}
}

func TestXRange_InclusiveAndHalfIDs(t *testing.T) {
	s := New()
	id1, _ := s.Append("0-*", fields("k", "v"), 0)
	id2, _ := s.Append("1-*", fields("k", "v"), 0)

	entries, err := s.XRange("-", "+")
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != id1 || entries[1].ID != id2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	entries, err = s.XRange("1", "1")
	if err != nil {
		t.Fatalf("XRange half-id: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id2 {
		t.Fatalf("half-id range mismatch: %+v", entries)
	}
}

func TestXRead_ExclusiveAfter(t *testing.T) {
	s := New()
	_, _ = s.Append("1-1", fields("a", "1"), 0)
	id2, _ := s.Append("1-2", fields("b", "2"), 0)

	entries, err := s.XRead("1-1")
	if err != nil {
		t.Fatalf("XRead: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id2 {
		t.Fatalf("expected only id2, got %+v", entries)
	}
}

func TestAppend_Monotonicity(t *testing.T) {
	s := New()
	var prev ID
	for i := 0; i < 50; i++ {
		id, err := s.Append("*", fields(), int64(1000+i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i > 0 && !prev.Less(id) {
			t.Fatalf("ids not strictly increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestWait_WakesOnAppend(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	woke := make(chan struct{})
	go func() {
		s.Wait(ctx)
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Append("*", fields(), 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after Append")
	}
}

func TestWait_CancelsOnTimeout(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Wait(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not cancel on context timeout")
	}
}

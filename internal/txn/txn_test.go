// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package txn

import (
	"bytes"
	"testing"
)

func TestMulti_Queue_Exec(t *testing.T) {
	s := New()
	if err := s.Multi(); err != nil {
		t.Fatalf("Multi: %v", err)
	}
	if !s.InTxn() {
		t.Fatal("expected InTxn true after Multi")
	}

	s.Queue([]byte("frame1"))
	s.Queue([]byte("frame2"))

	drained, err := s.Exec()
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if s.InTxn() {
		t.Fatal("expected InTxn false after Exec")
	}
	if len(drained) != 2 || !bytes.Equal(drained[0], []byte("frame1")) || !bytes.Equal(drained[1], []byte("frame2")) {
		t.Fatalf("unexpected drained queue: %+v", drained)
	}
}

func TestMulti_Nested(t *testing.T) {
	s := New()
	if err := s.Multi(); err != nil {
		t.Fatalf("Multi: %v", err)
	}
	if err := s.Multi(); err == nil {
		t.Fatal("expected error on nested MULTI")
	}
}

func TestExec_WithoutMulti(t *testing.T) {
	s := New()
	_, err := s.Exec()
	if err == nil || err.Error() != ErrTextExecWithoutMulti {
		t.Fatalf("expected %q, got %v", ErrTextExecWithoutMulti, err)
	}
}

func TestDiscard_WithoutMulti(t *testing.T) {
	s := New()
	err := s.Discard()
	if err == nil || err.Error() != ErrTextDiscardWithoutMulti {
		t.Fatalf("expected %q, got %v", ErrTextDiscardWithoutMulti, err)
	}
}

func TestDiscard_ClearsQueue(t *testing.T) {
	s := New()
	_ = s.Multi()
	s.Queue([]byte("frame"))
	if err := s.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if s.InTxn() {
		t.Fatal("expected InTxn false after Discard")
	}
	drained, err := s.Exec()
	if err == nil {
		t.Fatalf("expected EXEC without MULTI after Discard, got drained=%v", drained)
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bytes"
	"sync"
	"testing"
)

func TestEmptySnapshot_ShapeAndLength(t *testing.T) {
	if len(EmptySnapshot) != 88 {
		t.Fatalf("expected an 88-byte empty snapshot, got %d", len(EmptySnapshot))
	}
	if string(EmptySnapshot[:9]) != "REDIS0011" {
		t.Fatalf("expected REDIS0011 magic/version prefix, got %q", EmptySnapshot[:9])
	}
	if EmptySnapshot[len(EmptySnapshot)-9] != 0xff {
		t.Fatalf("expected trailing 0xff EOF opcode, got %#x", EmptySnapshot[len(EmptySnapshot)-9])
	}
}

func TestPrimary_RegisterAndReplicaCount(t *testing.T) {
	p := NewPrimary(nil, 0)
	if p.ReplicaCount() != 0 {
		t.Fatalf("expected 0 replicas initially, got %d", p.ReplicaCount())
	}

	var sink bytes.Buffer
	h := p.Register(&sink, "127.0.0.1:9001")
	if p.ReplicaCount() != 1 {
		t.Fatalf("expected 1 replica after Register, got %d", p.ReplicaCount())
	}

	p.Unregister(h)
	if p.ReplicaCount() != 0 {
		t.Fatalf("expected 0 replicas after Unregister, got %d", p.ReplicaCount())
	}
}

func TestPrimary_FanOutSkipsUntilSnapshotSent(t *testing.T) {
	p := NewPrimary(nil, 0)
	var sink bytes.Buffer
	h := p.Register(&sink, "127.0.0.1:9001")

	p.FanOut([]byte("*1\r\n$4\r\nPING\r\n"))
	if sink.Len() != 0 {
		t.Fatal("FanOut wrote to a replica before MarkSnapshotSent")
	}

	p.MarkSnapshotSent(h)
	p.FanOut([]byte("*1\r\n$4\r\nPING\r\n"))
	if sink.Len() == 0 {
		t.Fatal("FanOut did not write to a snapshot-complete replica")
	}
}

func TestPrimary_FanOutUpdatesOffsetRegardlessOfReplicas(t *testing.T) {
	p := NewPrimary(nil, 0)
	before := p.Offset()
	frame := []byte("*1\r\n$4\r\nPING\r\n")
	p.FanOut(frame)
	if got := p.Offset(); got != before+int64(len(frame)) {
		t.Fatalf("expected offset to advance by %d, got %d", len(frame), got-before)
	}
}

func TestPrimary_FanOutDropsFailingReplica(t *testing.T) {
	p := NewPrimary(nil, 0)
	h := p.Register(failingWriter{}, "127.0.0.1:9001")
	p.MarkSnapshotSent(h)

	p.FanOut([]byte("*1\r\n$4\r\nPING\r\n"))

	if p.ReplicaCount() != 0 {
		t.Fatalf("expected the failing replica to be dropped, still have %d", p.ReplicaCount())
	}
}

func TestPrimary_FanOutIsConcurrencySafe(t *testing.T) {
	p := NewPrimary(nil, 0)
	var bufs [8]bytes.Buffer
	for i := range bufs {
		h := p.Register(&bufs[i], "127.0.0.1:9001")
		p.MarkSnapshotSent(h)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.FanOut([]byte("*1\r\n$4\r\nPING\r\n"))
		}()
	}
	wg.Wait()

	for i := range bufs {
		if bufs[i].Len() == 0 {
			t.Fatalf("replica %d received no writes", i)
		}
	}
}

func TestPrimary_InfoFields(t *testing.T) {
	p := NewPrimary(nil, 0)
	keys, values := p.InfoFields()
	want := map[string]bool{"role": true, "master_repl_offset": true, "master_replid": true}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected INFO key %q", k)
		}
		delete(want, k)
	}
	if len(want) != 0 {
		t.Fatalf("missing INFO keys: %v", want)
	}
	if values["role"] != "master" {
		t.Fatalf("expected role=master, got %q", values["role"])
	}
	if len(values["master_replid"]) != 40 {
		t.Fatalf("expected a 40-char replid, got %q", values["master_replid"])
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, bytes.ErrTooLarge }

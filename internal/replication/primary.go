// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package replication implements both sides of primary/replica
// replication: the primary-side replica registry and write fan-out, and
// the replica-side handshake and propagated-command apply loop.
package replication

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EmptySnapshot is the canonical 88-byte empty RDB-shaped snapshot sent
// on every full resync: the "REDIS0011" magic/version header, a few
// auxiliary fields and a trailing 0xff end-of-file opcode followed by an
// 8-byte CRC64 checksum. The exact bytes are part of the wire contract
// and must never be altered.
var EmptySnapshot = mustDecodeHex(emptySnapshotHex)

// emptySnapshotHex is the hex encoding of the 88-byte empty snapshot:
// the 9-byte "REDIS0011" magic/version header, 70 bytes of auxiliary
// fields (redis-ver, redis-bits, ctime, used-mem, aof-base) and a
// trailing 0xff end-of-file opcode followed by an 8-byte CRC64 checksum.
const emptySnapshotHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

// replid is a stable 40-character ascii replication ID. A fixed constant
// is an acceptable scheme since this server supports only one primary
// identity per process lifetime.
const replid = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// ReplicaHandle is the primary's registration record for one connected
// replica: its writer (guarded by its own mutex, which serializes the
// fan-out and GETACK writes made through this handle; the connection's
// own replies are written to the connection directly, not under this
// mutex) and whether the snapshot has been marked as sent on it.
type ReplicaHandle struct {
	mu             sync.Mutex
	w              io.Writer
	snapshotSent   bool
	ackedOffset    atomic.Int64
	remoteAddr     string
}

func (h *ReplicaHandle) write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(p)
	return err
}

// Primary tracks replication state for the primary role: replid,
// monotonic offset and the live set of replica writer handles.
type Primary struct {
	mu          sync.Mutex
	replicas    map[*ReplicaHandle]struct{}
	offset      atomic.Int64
	logger      *slog.Logger
	throttleBps int64 // 0 = unlimited
}

// NewPrimary returns a Primary with no registered replicas and offset 0.
// throttleBps bounds each replica's fan-out write rate in bytes/sec; 0
// leaves fan-out unthrottled.
func NewPrimary(logger *slog.Logger, throttleBps int64) *Primary {
	return &Primary{replicas: make(map[*ReplicaHandle]struct{}), logger: logger, throttleBps: throttleBps}
}

// Replid returns the primary's stable replication ID.
func (p *Primary) Replid() string { return replid }

// Offset returns the current replication offset.
func (p *Primary) Offset() int64 { return p.offset.Load() }

// ReplicaCount reports how many replicas are currently registered.
func (p *Primary) ReplicaCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replicas)
}

// Register creates and tracks a new ReplicaHandle for a connection that
// has just issued REPLCONF. The handle starts with snapshotSent=false;
// FanOut silently skips it until MarkSnapshotSent is called, so a write
// racing the handshake cannot land before the snapshot.
func (p *Primary) Register(w io.Writer, remoteAddr string) *ReplicaHandle {
	h := &ReplicaHandle{w: newThrottledWriter(context.Background(), w, p.throttleBps), remoteAddr: remoteAddr}
	p.mu.Lock()
	p.replicas[h] = struct{}{}
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Info("replica registered", "addr", remoteAddr)
	}
	return h
}

// MarkSnapshotSent flags a replica handle as having received the full
// snapshot, making it eligible for write fan-out.
func (p *Primary) MarkSnapshotSent(h *ReplicaHandle) {
	h.mu.Lock()
	h.snapshotSent = true
	h.mu.Unlock()
}

// Unregister drops a replica handle, e.g. on connection close or a
// failed write.
func (p *Primary) Unregister(h *ReplicaHandle) {
	p.mu.Lock()
	delete(p.replicas, h)
	p.mu.Unlock()
}

// FanOut writes raw (the exact inbound client frame that caused the
// mutation) to every snapshot-complete replica, in parallel and
// best-effort: a replica whose write fails is dropped from the set.
func (p *Primary) FanOut(raw []byte) {
	p.mu.Lock()
	targets := make([]*ReplicaHandle, 0, len(p.replicas))
	for h := range p.replicas {
		targets = append(targets, h)
	}
	p.mu.Unlock()

	p.offset.Add(int64(len(raw)))

	var wg sync.WaitGroup
	for _, h := range targets {
		h.mu.Lock()
		ready := h.snapshotSent
		h.mu.Unlock()
		if !ready {
			continue
		}
		wg.Add(1)
		go func(h *ReplicaHandle) {
			defer wg.Done()
			if err := h.write(raw); err != nil {
				p.Unregister(h)
				if p.logger != nil {
					p.logger.Warn("dropping replica after failed write", "addr", h.remoteAddr, "error", err)
				}
			}
		}(h)
	}
	wg.Wait()
}

// GetAck fans out "REPLCONF GETACK *" to every registered replica,
// regardless of snapshot state, as the heartbeat does.
func (p *Primary) GetAck(frame []byte) {
	p.mu.Lock()
	targets := make([]*ReplicaHandle, 0, len(p.replicas))
	for h := range p.replicas {
		targets = append(targets, h)
	}
	p.mu.Unlock()

	for _, h := range targets {
		if err := h.write(frame); err != nil {
			p.Unregister(h)
		}
	}
}

// InfoFields returns the primary-role fields clients expect in INFO.
func (p *Primary) InfoFields() (keys []string, values map[string]string) {
	keys = []string{"role", "master_repl_offset", "master_replid"}
	values = map[string]string{
		"role":                "master",
		"master_repl_offset":  itoa(p.Offset()),
		"master_replid":       p.Replid(),
	}
	return keys, values
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func mustDecodeHex(s string) []byte {
	if len(s)%2 != 0 {
		panic("replication: odd-length hex snapshot constant")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		panic("replication: invalid hex digit in snapshot constant")
	}
}

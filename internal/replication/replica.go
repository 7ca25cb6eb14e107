// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/nishisan-dev/kvstreamd/internal/clock"
	"github.com/nishisan-dev/kvstreamd/internal/codec"
	"github.com/nishisan-dev/kvstreamd/internal/store"
)

// ErrHandshakeFailed wraps any assertion failure during the replica
// bootstrap sequence. It is a start-up invariant: the caller is expected
// to terminate the process on this error.
var ErrHandshakeFailed = errors.New("replication: handshake failed")

// Replica is the replica-side replication engine: it performs the
// bootstrap handshake against a primary, then applies propagated write
// commands to the local store, tracking the running byte offset it has
// consumed from the primary link.
type Replica struct {
	conn           net.Conn
	store          *store.Store
	clock          clock.Clock
	logger         *slog.Logger
	processedBytes int64
	pending        []byte // handshake-trailing bytes not yet consumed by Run
}

// Dial opens a TCP connection to primaryAddr and performs the five-step
// PING/REPLCONF/REPLCONF/PSYNC handshake, announcing ownPort as this
// replica's own listening port. On success the returned Replica is ready
// for Run.
func Dial(primaryAddr string, ownPort int, st *store.Store, clk clock.Clock, logger *slog.Logger) (*Replica, error) {
	conn, err := net.Dial("tcp", primaryAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing primary: %v", ErrHandshakeFailed, err)
	}

	r := &Replica{conn: conn, store: st, clock: clk, logger: logger}
	if err := r.handshake(ownPort); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *Replica) handshake(ownPort int) error {
	if err := r.sendAndExpect(arrayFrame("PING"), "PONG"); err != nil {
		return fmt.Errorf("%w: PING: %v", ErrHandshakeFailed, err)
	}
	if err := r.sendAndExpect(arrayFrame("REPLCONF", "listening-port", strconv.Itoa(ownPort)), "OK"); err != nil {
		return fmt.Errorf("%w: REPLCONF listening-port: %v", ErrHandshakeFailed, err)
	}
	if err := r.sendAndExpect(arrayFrame("REPLCONF", "capa", "psync2"), "OK"); err != nil {
		return fmt.Errorf("%w: REPLCONF capa: %v", ErrHandshakeFailed, err)
	}
	if _, err := r.conn.Write(arrayFrame("PSYNC", "?", "-1")); err != nil {
		return fmt.Errorf("%w: PSYNC: %v", ErrHandshakeFailed, err)
	}

	buf, err := r.readAtLeastOneFrame()
	if err != nil {
		return fmt.Errorf("%w: reading FULLRESYNC: %v", ErrHandshakeFailed, err)
	}
	fullresync, next, err := codec.Parse(buf, 0)
	if err != nil || fullresync.Kind != codec.KindSimple || !strings.HasPrefix(fullresync.Str, "FULLRESYNC") {
		return fmt.Errorf("%w: unexpected PSYNC reply %q", ErrHandshakeFailed, fullresync.Str)
	}

	for next+2 > len(buf) {
		more, err := r.readMore()
		if err != nil {
			return fmt.Errorf("%w: reading snapshot header: %v", ErrHandshakeFailed, err)
		}
		buf = append(buf, more...)
	}
	snapLen, headerEnd, err := parseBulkHeader(buf, next)
	if err != nil {
		return fmt.Errorf("%w: parsing snapshot header: %v", ErrHandshakeFailed, err)
	}
	for headerEnd+snapLen > len(buf) {
		more, err := r.readMore()
		if err != nil {
			return fmt.Errorf("%w: reading snapshot body: %v", ErrHandshakeFailed, err)
		}
		buf = append(buf, more...)
	}

	// The snapshot payload is not decoded; only the trailing bytes
	// after it (already-propagated commands) matter.
	r.pending = buf[headerEnd+snapLen:]
	return nil
}

func (r *Replica) sendAndExpect(frame []byte, wantSimple string) error {
	if _, err := r.conn.Write(frame); err != nil {
		return err
	}
	buf, err := r.readAtLeastOneFrame()
	if err != nil {
		return err
	}
	v, _, err := codec.Parse(buf, 0)
	if err != nil {
		return err
	}
	if v.Kind != codec.KindSimple || v.Str != wantSimple {
		return fmt.Errorf("expected +%s, got %q", wantSimple, v.Str)
	}
	return nil
}

func (r *Replica) readAtLeastOneFrame() ([]byte, error) {
	buf := make([]byte, 0, 256)
	for {
		tmp := make([]byte, 4096)
		n, err := r.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if _, _, perr := codec.Parse(buf, 0); perr == nil {
				return buf, nil
			} else if !errors.Is(perr, codec.ErrTruncatedFrame) {
				return nil, perr
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *Replica) readMore() ([]byte, error) {
	tmp := make([]byte, 4096)
	n, err := r.conn.Read(tmp)
	if n > 0 {
		return tmp[:n], nil
	}
	return nil, err
}

// Run reads propagated commands from the primary link indefinitely,
// applying SET/INCR to the local store and replying REPLCONF ACK on
// every REPLCONF GETACK. It returns on link error or malformed data.
func (r *Replica) Run() error {
	buf := append([]byte(nil), r.pending...)
	for {
		frames, consumed, err := parseAvailable(buf)
		if err != nil {
			return fmt.Errorf("replication: decode error on primary link: %w", err)
		}
		if len(frames) == 0 {
			more, err := r.readMore()
			if err != nil {
				return err
			}
			buf = append(buf, more...)
			continue
		}

		var needsAck bool
		for _, f := range frames {
			args, ok := f.Value.Strings()
			if !ok || len(args) == 0 {
				continue
			}
			verb := strings.ToUpper(string(args[0]))
			switch verb {
			case "SET":
				var ttl *int64
				r.store.Set(args[1], args[2], r.clock.NowMillis(), ttl)
			case "INCR":
				if _, err := r.store.Incr(args[1], r.clock.NowMillis()); err != nil {
					r.logger.Warn("replica apply: INCR failed", "error", err)
				}
			case "REPLCONF":
				if len(args) >= 2 && strings.ToUpper(string(args[1])) == "GETACK" {
					needsAck = true
				}
			}
		}

		r.processedBytes += int64(consumed)
		buf = buf[consumed:]

		if needsAck {
			ack := arrayFrame("REPLCONF", "ACK", strconv.FormatInt(r.processedBytes, 10))
			if _, err := r.conn.Write(ack); err != nil {
				return err
			}
		}
	}
}

// parseAvailable parses every complete frame currently in buf, stopping
// (without error) at the first truncated frame so the caller can read
// more bytes and retry.
func parseAvailable(buf []byte) ([]codec.Frame, int, error) {
	var frames []codec.Frame
	offset := 0
	for offset < len(buf) {
		start := offset
		v, next, err := codec.Parse(buf, offset)
		if err != nil {
			if errors.Is(err, codec.ErrTruncatedFrame) {
				break
			}
			return nil, offset, err
		}
		frames = append(frames, codec.Frame{Value: v, Len: next - start})
		offset = next
	}
	return frames, offset, nil
}

func arrayFrame(parts ...string) []byte {
	elems := make([]codec.Value, len(parts))
	for i, p := range parts {
		elems[i] = codec.BulkString(p)
	}
	return codec.Serialize(codec.Array(elems))
}

// parseBulkHeader parses a "$<n>\r\n" bulk-length header starting at
// offset and returns n plus the offset just past the header.
func parseBulkHeader(buf []byte, offset int) (length, next int, err error) {
	if offset >= len(buf) || buf[offset] != '$' {
		return 0, offset, fmt.Errorf("expected bulk header, got %q", buf[offset:])
	}
	rest := buf[offset+1:]
	idx := indexCRLF(rest)
	if idx < 0 {
		return 0, offset, codec.ErrTruncatedFrame
	}
	n, perr := strconv.Atoi(string(rest[:idx]))
	if perr != nil {
		return 0, offset, perr
	}
	return n, offset + 1 + idx + 2, nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

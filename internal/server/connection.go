// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/nishisan-dev/kvstreamd/internal/clock"
	"github.com/nishisan-dev/kvstreamd/internal/codec"
	"github.com/nishisan-dev/kvstreamd/internal/dispatch"
	"github.com/nishisan-dev/kvstreamd/internal/metrics"
)

// Handler drives one accepted client connection: a read → parse →
// dispatch → write → flush loop, timestamping each inbound frame as it
// is read and evicting the connection's transaction/replica state on
// EOF.
type Handler struct {
	Dispatcher *dispatch.Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Registry // nil disables metrics observation
}

// HandleConnection runs the read/dispatch/write loop until EOF, a fatal
// parse error, or ctx cancellation. It always closes conn before
// returning.
func (h *Handler) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	state := dispatch.NewConnState(conn, remote)
	logger := h.Logger.With("remote", remote)

	if h.Metrics != nil {
		h.Metrics.ConnectedClients.Inc()
		defer h.Metrics.ConnectedClients.Dec()
	}
	defer func() {
		if state.Replica != nil && h.Dispatcher.Primary != nil {
			h.Dispatcher.Primary.Unregister(state.Replica)
		}
	}()

	reader := bufio.NewReaderSize(conn, 64*1024)
	buf := make([]byte, 0, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frames, consumed, err := parseAvailable(buf)
		if err != nil {
			logger.Warn("closing connection after malformed frame", "error", err)
			return
		}
		buf = buf[consumed:]

		for _, f := range frames {
			nowMs := h.Clock.NowMillis()
			raw := f.raw
			out := h.Dispatcher.Dispatch(ctx, state, f.value, raw, nowMs)

			if _, err := conn.Write(out.Reply); err != nil {
				logger.Debug("write failed", "error", err)
				return
			}
			if h.Metrics != nil {
				h.Metrics.CommandsProcessed.Inc()
			}
			for _, p := range out.Propagate {
				if h.Dispatcher.Primary != nil {
					h.Dispatcher.Primary.FanOut(p)
				}
			}
		}

		if len(frames) > 0 {
			continue // re-check buf for another complete frame before reading more
		}

		chunk := make([]byte, 4096)
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("read error", "error", err)
			}
			return
		}
	}
}

// taggedFrame pairs a parsed value with the exact raw bytes it occupied,
// needed for replication fan-out: the propagated frame is the original
// inbound bytes, not a re-serialization.
type taggedFrame struct {
	value codec.Value
	raw   []byte
}

// parseAvailable parses every complete frame currently in buf, stopping
// at the first truncated frame so the caller can read more and retry. A
// malformed (non-truncation) decode error is fatal to the connection.
func parseAvailable(buf []byte) ([]taggedFrame, int, error) {
	var frames []taggedFrame
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
		raw := make([]byte, next-start)
		copy(raw, buf[start:next])
		frames = append(frames, taggedFrame{value: v, raw: raw})
		offset = next
	}
	return frames, offset, nil
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package dispatch maps the first token of a parsed command frame to a
// handler, orchestrating reads/writes against the store, the stream
// index and the per-connection transaction queue, and producing wire
// frames. It also flags which inbound frames must be fanned out to
// replicas.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/nishisan-dev/kvstreamd/internal/clock"
	"github.com/nishisan-dev/kvstreamd/internal/codec"
	"github.com/nishisan-dev/kvstreamd/internal/replication"
	"github.com/nishisan-dev/kvstreamd/internal/store"
	"github.com/nishisan-dev/kvstreamd/internal/txn"
)

// writeCommands names the verbs that are replication-eligible, whether
// dispatched directly or replayed by EXEC.
var writeCommands = map[string]bool{
	"SET":  true,
	"INCR": true,
}

// ConnState is the per-connection state the dispatcher needs across
// calls: the transaction queue, the connection's writer (used only to
// register it as a replica on REPLCONF/PSYNC) and, once registered, its
// replica handle.
type ConnState struct {
	Txn        *txn.State
	Writer     io.Writer
	RemoteAddr string
	Replica    *replication.ReplicaHandle
}

// NewConnState returns a fresh, non-transactional ConnState for a newly
// accepted connection.
func NewConnState(w io.Writer, remoteAddr string) *ConnState {
	return &ConnState{Txn: txn.New(), Writer: w, RemoteAddr: remoteAddr}
}

// ExtraInfo supplies additional, ambient INFO fields (e.g. process
// memory) appended after the mandatory role/replid/offset fields. It is
// optional; a nil ExtraInfo simply contributes nothing.
type ExtraInfo interface {
	Fields() (keys []string, values map[string]string)
}

// Dispatcher wires the wire-level command surface to the store, stream
// index and (optionally) the primary-side replication engine.
type Dispatcher struct {
	Store     *store.Store
	Clock     clock.Clock
	Primary   *replication.Primary // nil when this process is a replica
	Snapshot  []byte               // empty-snapshot constant for PSYNC
	ExtraInfo ExtraInfo
	Logger    *slog.Logger
}

// Outcome is the result of dispatching one frame: the bytes to write back
// to the client, and zero or more raw inbound frames that must be fanned
// out to replicas (more than one only for a drained EXEC).
type Outcome struct {
	Reply     []byte
	Propagate [][]byte
}

// Dispatch handles one client-submitted frame (not a frame replayed from
// a transaction queue — see execDrain for that path).
func (d *Dispatcher) Dispatch(ctx context.Context, state *ConnState, v codec.Value, raw []byte, nowMs int64) Outcome {
	args, ok := v.Strings()
	if !ok || len(args) == 0 {
		return Outcome{Reply: codec.Serialize(codec.Simple("PONG"))}
	}
	verb := strings.ToUpper(string(args[0]))

	if state.Txn.InTxn() && verb != "EXEC" && verb != "DISCARD" && verb != "MULTI" {
		state.Txn.Queue(raw)
		return Outcome{Reply: codec.Serialize(codec.Simple("QUEUED"))}
	}

	switch verb {
	case "MULTI":
		if err := state.Txn.Multi(); err != nil {
			return Outcome{Reply: codec.Serialize(codec.ErrorValue(err.Error()))}
		}
		return Outcome{Reply: codec.Serialize(codec.Simple("OK"))}

	case "EXEC":
		return d.execDrain(ctx, state, nowMs)

	case "DISCARD":
		if err := state.Txn.Discard(); err != nil {
			return Outcome{Reply: codec.Serialize(codec.ErrorValue(err.Error()))}
		}
		return Outcome{Reply: codec.Serialize(codec.Simple("OK"))}
	}

	reply, isWrite := d.dispatchOne(ctx, state, verb, args, nowMs)
	out := Outcome{Reply: reply}
	if isWrite {
		out.Propagate = [][]byte{raw}
	}
	return out
}

// execDrain implements EXEC: it drains the queued raw frames and
// re-dispatches each in order, collecting both the per-command
// pre-encoded reply and any replication propagation.
func (d *Dispatcher) execDrain(ctx context.Context, state *ConnState, nowMs int64) Outcome {
	queued, err := state.Txn.Exec()
	if err != nil {
		return Outcome{Reply: codec.Serialize(codec.ErrorValue(err.Error()))}
	}

	replies := make([][]byte, 0, len(queued))
	var propagate [][]byte
	for _, raw := range queued {
		v, _, perr := codec.Parse(raw, 0)
		if perr != nil {
			replies = append(replies, codec.Serialize(codec.ErrorValue("ERR "+perr.Error())))
			continue
		}
		args, ok := v.Strings()
		if !ok || len(args) == 0 {
			replies = append(replies, codec.Serialize(codec.Simple("PONG")))
			continue
		}
		verb := strings.ToUpper(string(args[0]))
		reply, isWrite := d.dispatchOne(ctx, state, verb, args, nowMs)
		replies = append(replies, reply)
		if isWrite {
			propagate = append(propagate, raw)
		}
	}
	return Outcome{Reply: codec.ConcatArray(replies...), Propagate: propagate}
}

// dispatchOne handles every command that is neither MULTI, EXEC nor
// DISCARD (those are handled by Dispatch/execDrain themselves, since
// they manipulate the transaction queue rather than reply on their own
// right). It reports whether the command is replication-eligible.
func (d *Dispatcher) dispatchOne(ctx context.Context, state *ConnState, verb string, args [][]byte, nowMs int64) (reply []byte, isWrite bool) {
	switch verb {
	case "PING":
		return codec.Serialize(codec.Simple("PONG")), false

	case "ECHO":
		return codec.Serialize(codec.BulkString(string(bytes.Join(args[1:], []byte(" "))))), false

	case "GET":
		if len(args) < 2 {
			return codec.Serialize(codec.NullBulk()), false
		}
		r := d.Store.Get(args[1], nowMs)
		if r.Kind != store.KindString {
			return codec.Serialize(codec.NullBulk()), false
		}
		return codec.Serialize(codec.Bulk(r.Bytes)), false

	case "SET":
		return d.cmdSet(args, nowMs), writeCommands["SET"]

	case "TYPE":
		if len(args) < 2 {
			return codec.Serialize(codec.Simple(string(store.KindNone))), false
		}
		return codec.Serialize(codec.Simple(string(d.Store.Type(args[1], nowMs)))), false

	case "INCR":
		if len(args) < 2 {
			return codec.Serialize(codec.ErrorValue("ERR wrong number of arguments for 'incr' command")), false
		}
		n, err := d.Store.Incr(args[1], nowMs)
		if err != nil {
			return codec.Serialize(codec.ErrorValue(err.Error())), false
		}
		return codec.Serialize(codec.Integer(n)), writeCommands["INCR"]

	case "XADD":
		return d.cmdXAdd(args, nowMs), false

	case "XRANGE":
		return d.cmdXRange(args, nowMs), false

	case "XREAD":
		return d.cmdXRead(ctx, args, nowMs), false

	case "INFO":
		return d.cmdInfo(), false

	case "REPLCONF":
		return d.cmdReplConf(state, args), false

	case "PSYNC":
		return d.cmdPsync(state), false

	default:
		return codec.Serialize(codec.Simple("PONG")), false
	}
}

func (d *Dispatcher) cmdSet(args [][]byte, nowMs int64) []byte {
	if len(args) < 3 {
		return codec.Serialize(codec.ErrorValue("ERR wrong number of arguments for 'set' command"))
	}
	var ttl *int64
	for i := 3; i+1 < len(args); i++ {
		if strings.EqualFold(string(args[i]), "PX") {
			v, err := parseInt(args[i+1])
			if err != nil {
				return codec.Serialize(codec.ErrorValue("ERR value is not an integer or out of range"))
			}
			ttl = &v
		}
	}
	d.Store.Set(args[1], args[2], nowMs, ttl)
	return codec.Serialize(codec.Simple("OK"))
}

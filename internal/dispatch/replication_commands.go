// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import (
	"strconv"

	"github.com/nishisan-dev/kvstreamd/internal/codec"
)

// cmdInfo builds the bulk-string-encoded replication info map clients
// expect, appending any ambient fields from d.ExtraInfo.
func (d *Dispatcher) cmdInfo() []byte {
	var keys []string
	values := make(map[string]string)

	if d.Primary != nil {
		k, v := d.Primary.InfoFields()
		keys = append(keys, k...)
		for key, val := range v {
			values[key] = val
		}
	} else {
		keys = append(keys, "role")
		values["role"] = "slave"
	}

	if d.ExtraInfo != nil {
		extraKeys, extraValues := d.ExtraInfo.Fields()
		keys = append(keys, extraKeys...)
		for k, v := range extraValues {
			values[k] = v
		}
	}

	return codec.SerializeMap(keys, values)
}

// cmdReplConf registers the connection's writer as a replica on the
// primary the first time REPLCONF is seen for it, then always replies
// +OK (the listening-port/capa handshake frames get the same reply).
func (d *Dispatcher) cmdReplConf(state *ConnState, args [][]byte) []byte {
	if d.Primary != nil && state.Replica == nil {
		state.Replica = d.Primary.Register(state.Writer, state.RemoteAddr)
	}
	_ = args
	return codec.Serialize(codec.Simple("OK"))
}

// cmdPsync answers a full-resync request with the two-frame response:
// a simple-string FULLRESYNC header naming the primary's replid and
// offset, followed by the hardcoded empty snapshot as "$<len>\r\n<bytes>"
// (no trailing CRLF after the snapshot bytes). It
// marks the replica eligible for write fan-out only once this reply is
// fully assembled, so a concurrently executing write cannot be lost
// mid-snapshot.
func (d *Dispatcher) cmdPsync(state *ConnState) []byte {
	if d.Primary == nil {
		return codec.Serialize(codec.ErrorValue("ERR PSYNC is only valid against a primary"))
	}
	if state.Replica == nil {
		state.Replica = d.Primary.Register(state.Writer, state.RemoteAddr)
	}

	header := codec.Serialize(codec.Simple("FULLRESYNC " + d.Primary.Replid() + " 0"))
	reply := append(header, '$')
	reply = append(reply, strconv.Itoa(len(d.Snapshot))...)
	reply = append(reply, '\r', '\n')
	reply = append(reply, d.Snapshot...)

	d.Primary.MarkSnapshotSent(state.Replica)
	return reply
}

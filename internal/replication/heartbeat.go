// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"log/slog"

	"github.com/nishisan-dev/kvstreamd/internal/codec"
	"github.com/robfig/cron/v3"
)

// getAckFrame is "REPLCONF GETACK *" pre-encoded as a RESP array, sent
// to every replica on every heartbeat tick.
var getAckFrame = codec.Serialize(codec.Array([]codec.Value{
	codec.BulkString("REPLCONF"),
	codec.BulkString("GETACK"),
	codec.BulkString("*"),
}))

// Heartbeat periodically fans out REPLCONF GETACK to all registered
// replicas. The primary does not record the ACK offsets they send back.
type Heartbeat struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewHeartbeat schedules a GETACK fan-out against p on the given cron
// spec (e.g. "@every 1s").
func NewHeartbeat(p *Primary, spec string, logger *slog.Logger) (*Heartbeat, error) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(spec, func() {
		p.GetAck(getAckFrame)
	}); err != nil {
		return nil, err
	}
	return &Heartbeat{cron: c, logger: logger}, nil
}

// Start begins the heartbeat's background cron schedule.
func (h *Heartbeat) Start() {
	h.logger.Info("replication heartbeat started")
	h.cron.Start()
}

// Stop halts the heartbeat, waiting for any in-flight tick to finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
}

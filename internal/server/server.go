// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements the TCP front door: the accept loop with
// consecutive-error backoff and the per-connection handler
// (connection.go).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Run listens on addr and serves connections with handler until ctx is
// cancelled.
func Run(ctx context.Context, addr string, handler *Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	handler.Logger.Info("server listening", "address", addr)

	go func() {
		<-ctx.Done()
		handler.Logger.Info("shutting down server")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				handler.Logger.Info("server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				handler.Logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handler.HandleConnection(ctx, conn)
	}
}

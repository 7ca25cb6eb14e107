// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/nishisan-dev/kvstreamd/internal/codec"
	"github.com/nishisan-dev/kvstreamd/internal/stream"
)

func parseInt(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

// entriesToValue renders a []stream.Entry as the wire shape
// [[id, [k1, v1, ...]], ...].
func entriesToValue(entries []stream.Entry) codec.Value {
	elems := make([]codec.Value, 0, len(entries))
	for _, e := range entries {
		elems = append(elems, entryToValue(e))
	}
	return codec.Array(elems)
}

func entryToValue(e stream.Entry) codec.Value {
	flat := make([]codec.Value, 0, len(e.Fields)*2)
	for _, f := range e.Fields {
		flat = append(flat, codec.Bulk(f.Key), codec.Bulk(f.Value))
	}
	return codec.Array([]codec.Value{
		codec.BulkString(e.ID.String()),
		codec.Array(flat),
	})
}

func (d *Dispatcher) cmdXAdd(args [][]byte, nowMs int64) []byte {
	if len(args) < 5 || len(args)%2 != 1 {
		return codec.Serialize(codec.ErrorValue("ERR wrong number of arguments for 'xadd' command"))
	}
	key, idSpec := args[1], string(args[2])

	fields := make([]stream.Field, 0, (len(args)-3)/2)
	for i := 3; i+1 < len(args); i += 2 {
		fields = append(fields, stream.Field{Key: args[i], Value: args[i+1]})
	}

	st, err := d.Store.StreamFor(key, nowMs)
	if err != nil {
		return codec.Serialize(codec.ErrorValue("ERR " + err.Error()))
	}
	id, err := st.Append(idSpec, fields, nowMs)
	if err != nil {
		return codec.Serialize(codec.ErrorValue(err.Error()))
	}
	return codec.Serialize(codec.BulkString(id.String()))
}

func (d *Dispatcher) cmdXRange(args [][]byte, nowMs int64) []byte {
	if len(args) != 4 {
		return codec.Serialize(codec.ErrorValue("ERR wrong number of arguments for 'xrange' command"))
	}
	key, start, end := args[1], string(args[2]), string(args[3])

	st, ok := d.Store.GetStream(key, nowMs)
	if !ok {
		return codec.Serialize(codec.Array(nil))
	}
	entries, err := st.XRange(start, end)
	if err != nil {
		return codec.Serialize(codec.ErrorValue("ERR " + err.Error()))
	}
	return codec.Serialize(entriesToValue(entries))
}

// cmdXRead implements "XREAD [BLOCK ms] STREAMS s1..sn start1..startn".
func (d *Dispatcher) cmdXRead(ctx context.Context, args [][]byte, nowMs int64) []byte {
	blockMs, names, starts, err := parseXRead(args)
	if err != nil {
		return codec.Serialize(codec.ErrorValue("ERR " + err.Error()))
	}

	if result := d.xreadOnce(names, starts, nowMs); result != nil {
		return codec.Serialize(*result)
	}
	if blockMs == nil {
		return codec.Serialize(codec.NullBulk())
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if *blockMs > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(*blockMs)*time.Millisecond)
		defer cancel()
	}

	woken := make(chan int, len(names))
	waitCtxChild, cancelAll := context.WithCancel(waitCtx)
	defer cancelAll()
	for i, name := range names {
		st, ok := d.Store.GetStream([]byte(name), nowMs)
		if !ok {
			continue
		}
		go func(idx int, s *stream.Stream) {
			s.Wait(waitCtxChild)
			select {
			case woken <- idx:
			default:
			}
		}(i, st)
	}

	select {
	case idx := <-woken:
		cancelAll()
		if result := d.xreadOnce([]string{names[idx]}, []string{starts[idx]}, nowMs); result != nil {
			return codec.Serialize(*result)
		}
		return codec.Serialize(codec.NullBulk())
	case <-waitCtx.Done():
		cancelAll()
		return codec.Serialize(codec.NullBulk())
	}
}

func (d *Dispatcher) xreadOnce(names, starts []string, nowMs int64) *codec.Value {
	var perStream []codec.Value
	found := false
	for i, name := range names {
		st, ok := d.Store.GetStream([]byte(name), nowMs)
		if !ok {
			continue
		}
		entries, err := st.XRead(starts[i])
		if err != nil || len(entries) == 0 {
			continue
		}
		found = true
		perStream = append(perStream, codec.Array([]codec.Value{
			codec.BulkString(name),
			entriesToValue(entries),
		}))
	}
	if !found {
		return nil
	}
	v := codec.Array(perStream)
	return &v
}

func parseXRead(args [][]byte) (blockMs *int64, names, starts []string, err error) {
	i := 1
	if i < len(args) && eqFold(args[i], "BLOCK") {
		if i+1 >= len(args) {
			return nil, nil, nil, errWrongArgs
		}
		ms, perr := parseInt(args[i+1])
		if perr != nil {
			return nil, nil, nil, perr
		}
		blockMs = &ms
		i += 2
	}
	if i >= len(args) || !eqFold(args[i], "STREAMS") {
		return nil, nil, nil, errWrongArgs
	}
	i++
	rest := args[i:]
	if len(rest)%2 != 0 {
		return nil, nil, nil, errWrongArgs
	}
	n := len(rest) / 2
	names = make([]string, n)
	starts = make([]string, n)
	for k := 0; k < n; k++ {
		names[k] = string(rest[k])
		starts[k] = string(rest[n+k])
	}
	return blockMs, names, starts, nil
}

var errWrongArgs = &wrongArgsError{}

type wrongArgsError struct{}

func (e *wrongArgsError) Error() string {
	return "wrong number of arguments for 'xread' command"
}

func eqFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		c := b[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		sc := s[i]
		if sc >= 'a' && sc <= 'z' {
			sc -= 'a' - 'A'
		}
		if c != sc {
			return false
		}
	}
	return true
}

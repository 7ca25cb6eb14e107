// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"strconv"
)

// Serialize encodes v into its wire representation.
func Serialize(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindSimple:
		buf.WriteByte('+')
		buf.WriteString(v.Str)
		buf.Write(crlf)
	case KindError:
		buf.WriteByte('-')
		buf.WriteString(v.Str)
		buf.Write(crlf)
	case KindInteger:
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.Write(crlf)
	case KindBulk:
		writeBulk(buf, v)
	case KindArray:
		writeArray(buf, v)
	default:
		// Scalar leaves default to bulk-string framing, per contract.
		writeBulk(buf, Value{Kind: KindBulk, Bulk: []byte(v.Str)})
	}
}

func writeBulk(buf *bytes.Buffer, v Value) {
	if v.BulkNull {
		buf.WriteString("$-1\r\n")
		return
	}
	buf.WriteByte('$')
	buf.WriteString(strconv.Itoa(len(v.Bulk)))
	buf.Write(crlf)
	buf.Write(v.Bulk)
	buf.Write(crlf)
}

func writeArray(buf *bytes.Buffer, v Value) {
	if v.ArrayNull {
		buf.WriteString("*-1\r\n")
		return
	}
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(v.Array)))
	buf.Write(crlf)
	for _, e := range v.Array {
		writeValue(buf, e)
	}
}

// SerializeMap encodes a string-keyed map as a single bulk string whose
// payload is "k1:v1\r\nk2:v2\r\n...kN:vN" — no trailing CRLF inside the
// payload, the outer bulk framing supplies it. keys is the iteration
// order to use (callers that care about deterministic output, such as
// INFO, pass an explicit order).
func SerializeMap(keys []string, m map[string]string) []byte {
	var payload bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			payload.Write(crlf)
		}
		payload.WriteString(k)
		payload.WriteByte(':')
		payload.WriteString(m[k])
	}
	return Serialize(Bulk(payload.Bytes()))
}

// ConcatArray builds an array-of-N-elements header followed by elements
// that are already individually serialized, without re-walking them as
// Values. Used to assemble a reply out of pre-encoded pieces (e.g. an
// EXEC reply built from each queued command's own serialized output).
func ConcatArray(elements ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(elements)))
	buf.Write(crlf)
	for _, e := range elements {
		buf.Write(e)
	}
	return buf.Bytes()
}

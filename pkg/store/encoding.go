package store

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding controls how trail snapshots are serialized. The live
// "<opID>.operation.json" document always uses JSON (SPEC_FULL.md §6 pins
// the external wire format), and the final archive snapshot is a copy of
// the live JSON bytes; Encoding only governs the internal-only trail
// copies.
type Encoding interface {
	Marshal(v any) ([]byte, error)
	Ext() string
}

// JSONEncoding pretty-prints, matching the live document's own format so
// a human can diff a trail snapshot against the current file directly.
type JSONEncoding struct{}

func (JSONEncoding) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
func (JSONEncoding) Ext() string                   { return "json" }

// MsgpackEncoding trades human-readability for size; useful for
// long-running operations that accumulate many trail snapshots.
type MsgpackEncoding struct{}

func (MsgpackEncoding) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgpackEncoding) Ext() string                   { return "msgpack" }

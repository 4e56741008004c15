package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"l4book/book"
)

// Frame types. Anything that is not a snapshot is applied incrementally.
const (
	FrameSnapshot = "snapshot"
	FrameDiff     = "diff"
	FrameUpdate   = "update"
)

// WireEntry is one order as it appears on the wire. Price and size stay as
// the exact text that was transmitted.
type WireEntry struct {
	OrderID string `json:"oid"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Side    string `json:"side,omitempty"`
}

// Entries decodes every entry encoding observed on L4 feeds:
//
//	[px, sz, oid]
//	[px, [[sz, oid], ...]]
//	{"limit_px"|"px"|"price": .., "sz"|"size": .., "oid"|"id": .., "side": ..}
//
// Numbers and strings are both accepted. An element that cannot be decoded
// becomes an entry without an id so the applier skips and reports it.
type Entries []WireEntry

func (e *Entries) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("entries: %w", err)
	}
	out := make(Entries, 0, len(raw))
	for _, item := range raw {
		out = append(out, decodeEntry(item)...)
	}
	*e = out
	return nil
}

func decodeEntry(item json.RawMessage) []WireEntry {
	item = bytes.TrimSpace(item)
	if len(item) == 0 {
		return []WireEntry{{}}
	}
	switch item[0] {
	case '{':
		return []WireEntry{decodeObject(item)}
	case '[':
		return decodeTuple(item)
	}
	return []WireEntry{{}}
}

func decodeObject(item json.RawMessage) WireEntry {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return WireEntry{}
	}
	return WireEntry{
		OrderID: firstScalar(fields, "oid", "id", "order_id"),
		Price:   firstScalar(fields, "limit_px", "limitPx", "px", "price"),
		Size:    firstScalar(fields, "sz", "size"),
		Side:    firstScalar(fields, "side"),
	}
}

func decodeTuple(item json.RawMessage) []WireEntry {
	var parts []json.RawMessage
	if err := json.Unmarshal(item, &parts); err != nil || len(parts) < 2 {
		return []WireEntry{{}}
	}
	price, _ := scalarText(parts[0])

	// [px, [[sz, oid], ...]] groups every order at one price.
	if inner := bytes.TrimSpace(parts[1]); len(parts) == 2 && len(inner) > 0 && inner[0] == '[' {
		var orders [][]json.RawMessage
		if err := json.Unmarshal(inner, &orders); err != nil {
			return []WireEntry{{Price: price}}
		}
		out := make([]WireEntry, 0, len(orders))
		for _, o := range orders {
			if len(o) != 2 {
				out = append(out, WireEntry{Price: price})
				continue
			}
			size, _ := scalarText(o[0])
			oid, _ := scalarText(o[1])
			out = append(out, WireEntry{OrderID: oid, Price: price, Size: size})
		}
		return out
	}

	if len(parts) != 3 {
		return []WireEntry{{Price: price}}
	}
	size, _ := scalarText(parts[1])
	oid, _ := scalarText(parts[2])
	return []WireEntry{{OrderID: oid, Price: price, Size: size}}
}

func firstScalar(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s, ok := scalarText(v); ok {
				return s
			}
		}
	}
	return ""
}

// scalarText returns a JSON string's contents or a JSON number's literal text.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", false
	}
	return n.String(), true
}

type frameSides struct {
	Bids Entries `json:"bids"`
	Asks Entries `json:"asks"`
}

// Frame is one decoded L4 book message for a single market.
type Frame struct {
	Market     string    `json:"coin"`
	Type       string    `json:"type"`
	Height     uint64    `json:"height,omitempty"`
	Time       int64     `json:"time,omitempty"`
	Bids       Entries   `json:"bids"`
	Asks       Entries   `json:"asks"`
	ReceivedAt time.Time `json:"-"`

	// Seq is the frame's position in its subscription, assigned by the
	// frame queue.
	Seq uint64 `json:"-"`
}

// UnmarshalJSON accepts "coin" or "market" for the market and reads the
// sides either at the top level or nested under "data", as diffs carry them.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire struct {
		Coin   string          `json:"coin"`
		Market string          `json:"market"`
		Type   string          `json:"type"`
		Height json.Number     `json:"height"`
		Time   json.Number     `json:"time"`
		Bids   Entries         `json:"bids"`
		Asks   Entries         `json:"asks"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*f = Frame{
		Market: wire.Coin,
		Type:   strings.ToLower(wire.Type),
		Bids:   wire.Bids,
		Asks:   wire.Asks,
	}
	if f.Market == "" {
		f.Market = wire.Market
	}
	if wire.Height != "" {
		h, err := wire.Height.Int64()
		if err != nil || h < 0 {
			return fmt.Errorf("frame height %q: invalid", wire.Height)
		}
		f.Height = uint64(h)
	}
	if wire.Time != "" {
		ts, err := wire.Time.Int64()
		if err != nil {
			return fmt.Errorf("frame time %q: %w", wire.Time, err)
		}
		f.Time = ts
	}

	if nested := bytes.TrimSpace(wire.Data); len(nested) > 0 && nested[0] == '{' {
		var sides frameSides
		if err := json.Unmarshal(nested, &sides); err != nil {
			return fmt.Errorf("frame data: %w", err)
		}
		f.Bids = append(f.Bids, sides.Bids...)
		f.Asks = append(f.Asks, sides.Asks...)
	}
	if f.Type == "" {
		f.Type = FrameUpdate
	}
	return nil
}

// IsSnapshot reports whether the frame replaces the whole book.
func (f Frame) IsSnapshot() bool {
	return f.Type == FrameSnapshot
}

// Len is the number of entries in the frame.
func (f Frame) Len() int {
	return len(f.Bids) + len(f.Asks)
}

// Batch flattens the frame into applier entries: bids first, then asks,
// each in wire order. An entry that names its own side keeps it; an
// unknown side name is left for the applier to reject.
func (f Frame) Batch() []book.Entry {
	out := make([]book.Entry, 0, f.Len())
	add := func(list Entries, side book.Side) {
		for _, w := range list {
			e := book.Entry{OrderID: w.OrderID, Side: side, Price: w.Price, Size: w.Size, SideLabel: w.Side}
			if w.Side != "" {
				if parsed, err := book.ParseSide(w.Side); err == nil {
					e.Side = parsed
				}
			}
			out = append(out, e)
		}
	}
	add(f.Bids, book.Bid)
	add(f.Asks, book.Ask)
	return out
}

package changes

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// Message is the wire form of an Event.
type Message struct {
	Table       string         `json:"table" cbor:"table"`
	RowID       int64          `json:"rowid" cbor:"rowid"`
	Op          Op             `json:"op" cbor:"op"`
	Before      map[string]any `json:"before,omitempty" cbor:"before,omitempty"`
	After       map[string]any `json:"after,omitempty" cbor:"after,omitempty"`
	TxID        string         `json:"tx_id" cbor:"tx_id"`
	Seq         uint64         `json:"seq" cbor:"seq"`
	CommittedAt time.Time      `json:"committed_at" cbor:"committed_at"`
}

// NewMessage converts e to its wire form.
func NewMessage(e Event) Message {
	return Message{
		Table:       e.Table,
		RowID:       e.RowID,
		Op:          e.Op,
		Before:      rowMap(e.Before),
		After:       rowMap(e.After),
		TxID:        e.TxID,
		Seq:         e.Seq,
		CommittedAt: e.CommittedAt,
	}
}

func rowMap(r *sqlval.Row) map[string]any {
	if r == nil {
		return nil
	}
	m := make(map[string]any, r.Len())
	for i, name := range r.Columns() {
		m[name] = r.At(i).Any()
	}
	return m
}

// Codec encodes events for the forwarder.
type Codec interface {
	// Name is the configuration name of the codec.
	Name() string

	// ContentType describes the payload format.
	ContentType() string

	Encode(e Event) ([]byte, error)
	Decode(data []byte) (Message, error)
}

// JSONCodec encodes events as JSON. Blobs become base64 strings.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return "application/json" }

// Encode implements Codec.
func (JSONCodec) Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(NewMessage(e))
	if err != nil {
		return nil, fmt.Errorf("encoding event %d: %w", e.Seq, err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding event: %w", err)
	}
	return m, nil
}

// CBORCodec encodes events as deterministic CBOR (RFC 8949 core
// deterministic encoding), so equal events produce equal bytes.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the CBOR encoder and decoder modes.
func NewCBORCodec() (*CBORCodec, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("building cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("building cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (*CBORCodec) Name() string { return "cbor" }

// ContentType implements Codec.
func (*CBORCodec) ContentType() string { return "application/cbor" }

// Encode implements Codec.
func (c *CBORCodec) Encode(e Event) ([]byte, error) {
	data, err := c.enc.Marshal(NewMessage(e))
	if err != nil {
		return nil, fmt.Errorf("encoding event %d: %w", e.Seq, err)
	}
	return data, nil
}

// Decode implements Codec.
func (c *CBORCodec) Decode(data []byte) (Message, error) {
	var m Message
	if err := c.dec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding event: %w", err)
	}
	return m, nil
}

// ParseCodec returns the codec configured by name: "json" or "cbor".
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		c, err := NewCBORCodec()
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

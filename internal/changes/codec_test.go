package changes

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/litecore/internal/sqlval"
)

func sampleEvent() Event {
	return Event{
		Table: "orders",
		RowID: 42,
		Op:    OpUpdate,
		Before: sqlval.NewRow(
			[]string{"id", "total", "note"},
			[]sqlval.Value{sqlval.Integer(42), sqlval.Float(9.5), sqlval.Null()},
		),
		After: sqlval.NewRow(
			[]string{"id", "total", "note"},
			[]sqlval.Value{sqlval.Integer(42), sqlval.Float(12.25), sqlval.Text("rush")},
		),
		TxID:        "0190f5a2-7c3e-7b1d-9a6f-2c4e8d1b3a57",
		Seq:         7,
		CommittedAt: time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
	}
}

func TestCodecs(t *testing.T) {
	cborCodec, err := NewCBORCodec()
	if err != nil {
		t.Fatalf("NewCBORCodec() error = %v", err)
	}

	for _, codec := range []Codec{JSONCodec{}, cborCodec} {
		t.Run(codec.Name(), func(t *testing.T) {
			e := sampleEvent()
			data, err := codec.Encode(e)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			m, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if m.Table != e.Table || m.RowID != e.RowID || m.Op != e.Op || m.TxID != e.TxID || m.Seq != e.Seq {
				t.Errorf("Decode() header = %+v", m)
			}
			if !m.CommittedAt.Equal(e.CommittedAt) {
				t.Errorf("CommittedAt = %v, want %v", m.CommittedAt, e.CommittedAt)
			}
			if m.After["note"] != "rush" {
				t.Errorf("after.note = %#v, want rush", m.After["note"])
			}
			if m.After["total"] != 12.25 {
				t.Errorf("after.total = %#v, want 12.25", m.After["total"])
			}
			if v, ok := m.Before["note"]; !ok || v != nil {
				t.Errorf("before.note = %#v (present %v), want explicit null", v, ok)
			}
		})
	}
}

func TestCBORCodecDeterministic(t *testing.T) {
	codec, err := NewCBORCodec()
	if err != nil {
		t.Fatalf("NewCBORCodec() error = %v", err)
	}
	first, err := codec.Encode(sampleEvent())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for range 20 {
		again, err := codec.Encode(sampleEvent())
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("equal events encoded to different bytes")
		}
	}

	m, err := codec.Decode(first)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if id, ok := m.After["id"].(int64); !ok || id != 42 {
		t.Errorf("after.id = %#v, want int64 42", m.After["id"])
	}
}

func TestCodecsOmitMissingRows(t *testing.T) {
	e := sampleEvent()
	e.Op, e.Before = OpInsert, nil

	data, err := JSONCodec{}.Encode(e)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if bytes.Contains(data, []byte(`"before"`)) {
		t.Errorf("insert payload carries a before row: %s", data)
	}
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"", "json", "JSON", "cbor"} {
		c, err := ParseCodec(name)
		if err != nil {
			t.Errorf("ParseCodec(%q) error = %v", name, err)
			continue
		}
		want := "json"
		if name == "cbor" {
			want = "cbor"
		}
		if c.Name() != want {
			t.Errorf("ParseCodec(%q).Name() = %q, want %q", name, c.Name(), want)
		}
	}
	if _, err := ParseCodec("msgpack"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("ParseCodec(msgpack) error = %v, want ErrUnknownCodec", err)
	}
}

package extension

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

func TestUUIDGenerators(t *testing.T) {
	r := NewDefaultRegistry()

	for _, name := range []string{"uuid_v4", "uuid_v7"} {
		t.Run(name, func(t *testing.T) {
			a, err := r.Call(name)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			b, _ := r.Call(name)
			raw, _ := a.Bytes()
			if a.Kind() != sqlval.KindBlob || len(raw) != 16 {
				t.Fatalf("%s() = %v, want 16-byte blob", name, a)
			}
			if a.Equal(b) {
				t.Errorf("%s() returned the same value twice", name)
			}
		})
	}

	d, ok := r.Lookup("uuid_v7", 0)
	if !ok || d.Deterministic {
		t.Errorf("uuid_v7 descriptor = %v, want non-deterministic", d)
	}

	v7, _ := r.Call("uuid_v7")
	is, _ := r.Call("is_uuid_v7", v7)
	if !is.Equal(sqlval.Integer(1)) {
		t.Errorf("is_uuid_v7(uuid_v7()) = %v, want 1", is)
	}
	v4, _ := r.Call("uuid_v4")
	is, _ = r.Call("is_uuid_v7", v4)
	if !is.Equal(sqlval.Integer(0)) {
		t.Errorf("is_uuid_v7(uuid_v4()) = %v, want 0", is)
	}
}

func TestUUIDConversions(t *testing.T) {
	r := NewDefaultRegistry()
	const text = "01892b3c-4d5e-7f00-8011-223344556677"
	id := uuid.MustParse(text)

	blob, err := r.Call("uuid_parse", sqlval.Text(text))
	if err != nil || !blob.Equal(sqlval.Blob(id[:])) {
		t.Fatalf("uuid_parse = %v, %v", blob, err)
	}
	back, err := r.Call("uuid_text", blob)
	if err != nil || !back.Equal(sqlval.Text(text)) {
		t.Errorf("uuid_text = %v, %v; want %s", back, err, text)
	}

	tests := []struct {
		name string
		fn   string
		arg  sqlval.Value
		want sqlval.Value
	}{
		{"text null", "uuid_text", sqlval.Null(), sqlval.Null()},
		{"parse null", "uuid_parse", sqlval.Null(), sqlval.Null()},
		{"is_uuid text", "is_uuid", sqlval.Text(text), sqlval.Integer(1)},
		{"is_uuid urn", "is_uuid", sqlval.Text("urn:uuid:" + text), sqlval.Integer(1)},
		{"is_uuid garbage", "is_uuid", sqlval.Text("nope"), sqlval.Integer(0)},
		{"is_uuid short blob", "is_uuid", sqlval.Blob([]byte{1, 2}), sqlval.Integer(0)},
		{"is_uuid integer", "is_uuid", sqlval.Integer(7), sqlval.Integer(0)},
		{"is_uuid null", "is_uuid", sqlval.Null(), sqlval.Null()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Call(tt.fn, tt.arg)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.arg, got, tt.want)
			}
		})
	}

	if _, err := r.Call("uuid_parse", blob); !errors.Is(err, sqlerr.ErrExtension) {
		t.Errorf("uuid_parse(blob) error = %v, want ErrExtension", err)
	}
}

package extension

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// UUIDs are stored as 16-byte BLOBs. uuid_text and uuid_parse convert to and
// from the canonical 36-character form.

func uuidV4(_ []sqlval.Value) (sqlval.Value, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Blob(id[:]), nil
}

func uuidV7(_ []sqlval.Value) (sqlval.Value, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Blob(id[:]), nil
}

// toUUID accepts either the 16-byte form or any textual form uuid.Parse
// understands.
func toUUID(v sqlval.Value) (uuid.UUID, error) {
	switch v.Kind() {
	case sqlval.KindBlob:
		b, _ := v.Bytes()
		return uuid.FromBytes(b)
	case sqlval.KindText:
		s, _ := v.Text()
		return uuid.Parse(s)
	default:
		return uuid.Nil, fmt.Errorf("cannot interpret %s as a UUID", v.Kind())
	}
}

func uuidText(args []sqlval.Value) (sqlval.Value, error) {
	if args[0].IsNull() {
		return sqlval.Null(), nil
	}
	id, err := toUUID(args[0])
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Text(id.String()), nil
}

func uuidParse(args []sqlval.Value) (sqlval.Value, error) {
	if args[0].IsNull() {
		return sqlval.Null(), nil
	}
	if args[0].Kind() != sqlval.KindText {
		return sqlval.Null(), errors.New("argument must be TEXT")
	}
	id, err := toUUID(args[0])
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Blob(id[:]), nil
}

func isUUID(args []sqlval.Value) (sqlval.Value, error) {
	if args[0].IsNull() {
		return sqlval.Null(), nil
	}
	_, err := toUUID(args[0])
	return sqlval.Bool(err == nil), nil
}

func isUUIDv7(args []sqlval.Value) (sqlval.Value, error) {
	if args[0].IsNull() {
		return sqlval.Null(), nil
	}
	id, err := toUUID(args[0])
	return sqlval.Bool(err == nil && id.Version() == 7 && id.Variant() == uuid.RFC4122), nil
}

func uuidFunctions() []Descriptor {
	return []Descriptor{
		{Name: "uuid_v4", Arity: 0, Scalar: uuidV4},
		{Name: "uuid_v7", Arity: 0, Scalar: uuidV7},
		{Name: "uuid_text", Arity: 1, Deterministic: true, Scalar: uuidText},
		{Name: "uuid_parse", Arity: 1, Deterministic: true, Scalar: uuidParse},
		{Name: "is_uuid", Arity: 1, Deterministic: true, Scalar: isUUID},
		{Name: "is_uuid_v7", Arity: 1, Deterministic: true, Scalar: isUUIDv7},
	}
}

package extension

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// hashAlgorithms maps algorithm names accepted by hash() and hash_agg() to
// constructors.
var hashAlgorithms = map[string]func() hash.Hash{
	"sha256":      sha256.New,
	"sha512":      sha512.New,
	"sha3_256":    func() hash.Hash { return sha3.New256() },
	"blake2b_256": newBlake2b256,
	"blake3":      func() hash.Hash { return blake3.New() },
}

func newBlake2b256() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Unreachable: an unkeyed blake2b-256 never fails.
		panic(err)
	}
	return h
}

// HashAlgorithms returns the algorithm names accepted by hash().
func HashAlgorithms() []string {
	names := make([]string, 0, len(hashAlgorithms))
	for name := range hashAlgorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digest hashes data with the named algorithm.
func Digest(algorithm string, data []byte) ([]byte, error) {
	newHash, ok := hashAlgorithms[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm %q (supported: %s)", algorithm, strings.Join(HashAlgorithms(), ", "))
	}
	h := newHash()
	h.Write(data) //nolint:errcheck // hash.Hash writes never fail
	return h.Sum(nil), nil
}

// hashInput returns the bytes hashed for v: the blob payload, the UTF-8 text,
// or the text rendering of a number. NULL has no input.
func hashInput(v sqlval.Value) ([]byte, bool) {
	return v.Bytes()
}

// digestFunc builds a one-argument function for a fixed algorithm.
func digestFunc(algorithm string) ScalarFunc {
	return func(args []sqlval.Value) (sqlval.Value, error) {
		data, ok := hashInput(args[0])
		if !ok {
			return sqlval.Null(), nil
		}
		sum, err := Digest(algorithm, data)
		if err != nil {
			return sqlval.Null(), err
		}
		return sqlval.Blob(sum), nil
	}
}

// hashNamed implements hash(algorithm, x).
func hashNamed(args []sqlval.Value) (sqlval.Value, error) {
	algorithm, ok := args[0].Text()
	if !ok {
		return sqlval.Null(), errors.New("algorithm must not be NULL")
	}
	data, ok := hashInput(args[1])
	if !ok {
		return sqlval.Null(), nil
	}
	sum, err := Digest(algorithm, data)
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Blob(sum), nil
}

// blake3Keyed implements blake3_keyed(key, x). The key must be 32 bytes.
func blake3Keyed(args []sqlval.Value) (sqlval.Value, error) {
	keyBytes, ok := args[0].Bytes()
	if !ok {
		return sqlval.Null(), errors.New("key must not be NULL")
	}
	data, ok := hashInput(args[1])
	if !ok {
		return sqlval.Null(), nil
	}
	h, err := blake3.NewKeyed(keyBytes)
	if err != nil {
		return sqlval.Null(), fmt.Errorf("key must be 32 bytes, got %d", len(keyBytes))
	}
	h.Write(data) //nolint:errcheck // hash.Hash writes never fail
	return sqlval.Blob(h.Sum(nil)), nil
}

// hashAggregate implements hash_agg(algorithm, x): the digest of every
// non-NULL x of the group concatenated in row order. The algorithm is fixed by
// the first row; a group with no rows yields NULL.
type hashAggregate struct {
	algorithm string
	h         hash.Hash
}

func (a *hashAggregate) Step(args []sqlval.Value) error {
	algorithm, ok := args[0].Text()
	if !ok {
		return errors.New("algorithm must not be NULL")
	}
	algorithm = strings.ToLower(algorithm)
	if a.h == nil {
		newHash, ok := hashAlgorithms[algorithm]
		if !ok {
			return fmt.Errorf("unknown hash algorithm %q", algorithm)
		}
		a.algorithm = algorithm
		a.h = newHash()
	} else if algorithm != a.algorithm {
		return fmt.Errorf("algorithm changed from %q to %q within one group", a.algorithm, algorithm)
	}
	if data, ok := hashInput(args[1]); ok {
		a.h.Write(data) //nolint:errcheck // hash.Hash writes never fail
	}
	return nil
}

func (a *hashAggregate) Final() (sqlval.Value, error) {
	if a.h == nil {
		return sqlval.Null(), nil
	}
	return sqlval.Blob(a.h.Sum(nil)), nil
}

func hashFunctions() []Descriptor {
	descs := []Descriptor{
		{Name: "hash", Arity: 2, Deterministic: true, Scalar: hashNamed},
		{Name: "blake3_keyed", Arity: 2, Deterministic: true, Scalar: blake3Keyed},
		{Name: "hash_agg", Arity: 2, Deterministic: true, NewAggregate: func() Aggregator { return &hashAggregate{} }},
	}
	for _, algorithm := range HashAlgorithms() {
		descs = append(descs, Descriptor{
			Name:          algorithm,
			Arity:         1,
			Deterministic: true,
			Scalar:        digestFunc(algorithm),
		})
	}
	return descs
}

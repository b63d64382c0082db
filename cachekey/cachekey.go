package cachekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"sort"

	"github.com/hupe1980/compcache/model"
)

// Size is the width of a cache key in bytes.
const Size = sha256.Size

// ErrUncacheable signals that a required input is missing and the
// invocation must bypass the cache entirely. It is never a build
// failure; the caller falls through to a real compile.
var ErrUncacheable = errors.New("invocation cannot be cached")

// Key is an opaque fingerprint of a compile invocation's effective
// inputs. Two invocations that would produce byte-identical compiler
// output map to the same Key.
type Key [Size]byte

// String returns the lowercase hex form, used as the storage key in
// all cache tiers.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey parses the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	if hex.DecodedLen(len(s)) != Size {
		return k, errors.New("cachekey: invalid key length")
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, err
	}
	return k, nil
}

// Derive computes the cache key for a normalized invocation.
//
// It is a pure function of the invocation's listed inputs: no ambient
// state (clock, working directory, unlisted environment) influences
// the result. Args and Env are sorted before hashing; every field is
// written length-delimited so adjacent fields cannot alias.
//
// Returns ErrUncacheable when the preprocessed source or the compiler
// version digest is missing, since hashing partial inputs could alias
// distinct compilations.
func Derive(in model.Invocation) (Key, error) {
	if len(in.Source) == 0 {
		return Key{}, ErrUncacheable
	}
	if in.Compiler == "" || in.CompilerDigest == "" {
		return Key{}, ErrUncacheable
	}

	h := sha256.New()
	writeField(h, []byte(in.Compiler))
	writeField(h, []byte(in.CompilerDigest))
	writeField(h, in.Source)

	args := make([]string, len(in.Args))
	copy(args, in.Args)
	sort.Strings(args)
	writeCount(h, len(args))
	for _, a := range args {
		writeField(h, []byte(a))
	}

	env := make([]string, 0, len(in.Env))
	for k := range in.Env {
		env = append(env, k)
	}
	sort.Strings(env)
	writeCount(h, len(env))
	for _, k := range env {
		writeField(h, []byte(k))
		writeField(h, []byte(in.Env[k]))
	}

	if in.HashCwd {
		writeField(h, []byte(in.Cwd))
	}

	var key Key
	h.Sum(key[:0])
	return key, nil
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeCount(h hash.Hash, c int) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(c))
	h.Write(n[:])
}

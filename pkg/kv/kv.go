// Package kv is a small key-value store with hierarchical keys, used as the
// artifact cache. Keys are string slices such as
// ["blob", "models/birdnet/labels.txt", "<version>"] joined by a separator
// (default 0x1f, so segments may contain ':' and '/').
//
// Two implementations are provided: Badger, backed by BadgerDB on disk, and
// Memory for tests and cache-less runs.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String joins the segments with '/' for display.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Entry is a key-value pair returned by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key. A positive ttl expires the entry.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key Key) error

	// List yields the entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	Close() error
}

// DefaultSeparator joins key segments in storage.
const DefaultSeparator byte = 0x1f

// Options configures key encoding.
type Options struct {
	// Separator joins key segments. Zero means DefaultSeparator.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) encode(k Key) []byte {
	return []byte(strings.Join(k, string(o.sep())))
}

// prefix encodes k for prefix scans. A trailing separator keeps "a/b" from
// matching "a/bc"; an empty key scans everything.
func (o *Options) prefix(k Key) []byte {
	p := o.encode(k)
	if len(p) == 0 {
		return nil
	}
	return append(p, o.sep())
}

func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

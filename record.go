package refstore

import (
	"iter"
	"strings"
)

// Record is one raw (key, value) pair fed into Build.
type Record struct {
	Key   string
	Value []byte
}

func StringRecord(key, value string) Record {
	return Record{key, []byte(value)}
}

func VectorRecord(key string, vec []float32) Record {
	return Record{key, appendVector(nil, vec)}
}

// MsgPackRecord encodes v with the store's msgpack conventions.
func MsgPackRecord(key string, v any) (Record, error) {
	raw, err := encodeMsgPack(nil, v)
	if err != nil {
		return Record{}, err
	}
	return Record{key, raw}, nil
}

// Records adapts an in-memory slice into a record stream.
func Records(recs ...Record) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Entry is a key/value pair returned by scans. Value is owned by the caller.
type Entry struct {
	Key   string
	Value []byte
}

// NormalizeKey applies the case policy used both when building a store and
// when looking keys up in it.
func NormalizeKey(key string, caseSensitive bool) string {
	if caseSensitive {
		return key
	}
	return strings.ToLower(key)
}

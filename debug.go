package refstore

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpStats
	DumpRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump writes a human-readable description of the store, for debugging.
// At most limit rows are printed; limit <= 0 prints all.
func (s *Store) Dump(w io.Writer, f DumpFlags, limit int) error {
	d := s.desc
	if f.Contains(DumpHeader) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%v (%d keys, %v, case_sensitive = %v)\n", d.Reference, d.KeyCount, d.Codec, d.CaseSensitive)
		fmt.Fprintf(w, "built_at = %s, duplicates = %d\n", d.BuiltAt.UTC().Format("2006-01-02T15:04:05Z"), d.Duplicates)
	}
	if f.Contains(DumpStats) {
		st, err := s.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "stats: keys = %d, depth = %d, data_size = %d, data_alloc = %d, utilization = %.2f\n", st.Keys, st.Depth, st.DataSize, st.DataAlloc, st.Utilization())
	}
	if f.Contains(DumpRows) {
		fmt.Fprintln(w, dumpSep2)
		var n int
		for e, err := range s.Scan(AllKeys()) {
			if err != nil {
				return err
			}
			n++
			if limit > 0 && n > limit {
				fmt.Fprintln(w, "...")
				break
			}
			fmt.Fprintf(w, "%q = %s\n", e.Key, loggableValue(d.Codec, e.Value))
		}
	}
	return nil
}

func loggableValue(codec Codec, v []byte) string {
	switch codec.Kind {
	case CodecString:
		if utf8.Valid(v) {
			return fmt.Sprintf("%q", v)
		}
	case CodecVector:
		if vec, err := codec.DecodeVector(v); err == nil {
			return fmt.Sprint(vec)
		}
	case CodecMsgPack:
		var x any
		if err := decodeMsgPack(v, &x); err == nil {
			return fmt.Sprintf("%v", x)
		}
	}
	return fmt.Sprintf("%x", v)
}

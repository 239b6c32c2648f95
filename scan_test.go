package refstore

import (
	"path/filepath"
	"testing"
)

func TestScanRanges(t *testing.T) {
	path := buildStore(t, Ref("scan", 1, 0), StringCodec(), true,
		StringRecord("a", "1"),
		StringRecord("ab", "2"),
		StringRecord("abc", "3"),
		StringRecord("abd", "4"),
		StringRecord("ac", "5"),
		StringRecord("b", "6"),
		StringRecord("ba", "7"),
	)
	s := openStore(t, path)

	tests := []struct {
		name string
		r    KeyRange
		exp  []string
	}{
		{"all", AllKeys(), []string{"a", "ab", "abc", "abd", "ac", "b", "ba"}},
		{"all rev", AllKeys().Reversed(), []string{"ba", "b", "ac", "abd", "abc", "ab", "a"}},
		{"prefix", PrefixRange("ab"), []string{"ab", "abc", "abd"}},
		{"prefix rev", PrefixRange("ab").Reversed(), []string{"abd", "abc", "ab"}},
		{"prefix none", PrefixRange("zz"), nil},
		{"prefix none rev", PrefixRange("aa").Reversed(), nil},
		{"[ab, ...)", RangeIO("ab"), []string{"ab", "abc", "abd", "ac", "b", "ba"}},
		{"(ab, ...)", RangeEO("ab"), []string{"abc", "abd", "ac", "b", "ba"}},
		{"(..., ac]", RangeOI("ac"), []string{"a", "ab", "abc", "abd", "ac"}},
		{"(..., ac)", RangeOE("ac"), []string{"a", "ab", "abc", "abd"}},
		{"[ab, b]", RangeII("ab", "b"), []string{"ab", "abc", "abd", "ac", "b"}},
		{"[ab, b)", RangeIE("ab", "b"), []string{"ab", "abc", "abd", "ac"}},
		{"[ab, b) rev", RangeIE("ab", "b").Reversed(), []string{"ac", "abd", "abc", "ab"}},
		{"(..., ac) rev", RangeOE("ac").Reversed(), []string{"abd", "abc", "ab", "a"}},
		{"(..., abc] rev", RangeOI("abc").Reversed(), []string{"abc", "ab", "a"}},
		{"(ab, ...) rev", RangeEO("ab").Reversed(), []string{"ba", "b", "ac", "abd", "abc"}},
		{"prefix a lower ab excl", RangeEO("ab").Prefixed("a"), []string{"abc", "abd", "ac"}},
		{"prefix b lower a", RangeIO("a").Prefixed("b"), []string{"b", "ba"}},
		{"prefix ab upper abc", RangeOI("abc").Prefixed("ab"), []string{"ab", "abc"}},
		{"prefix ab upper b rev", RangeOE("b").Prefixed("ab").Reversed(), []string{"abd", "abc", "ab"}},
		{"prefix ab upper abd excl rev", RangeOE("abd").Prefixed("ab").Reversed(), []string{"abc", "ab"}},
		{"prefix b upper a rev", RangeOI("a").Prefixed("b").Reversed(), nil},
		{"empty", RangeIE("abz", "ac"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deepEqual(t, nilIfEmpty(keysOf(collect(t, s.Scan(tt.r)))), tt.exp)
		})
	}
}

func TestScanEarlyBreak(t *testing.T) {
	s := openStore(t, buildStore(t, Ref("brk", 1, 0), StringCodec(), false, gazRecords...))
	var n int
	for _, err := range s.Scan(AllKeys()) {
		ensure(err)
		n++
		if n == 2 {
			break
		}
	}
	deepEqual(t, n, 2)
	// The read transaction is gone, so Close does not block.
	ensure(s.Close())
}

func TestScanHighBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ff.db")
	enc := must(NewEncoder(path, MsgPackCodec(), EncoderOptions{Reference: Ref("ff", 1, 0)}))
	nilv := must(encodeMsgPack(nil, nil))
	for _, k := range []string{"\x01", "\xfe", "\xff", "\xff\x01", "\xff\xff", "\xff\xff\x00"} {
		ensure(enc.Add([]byte(k), nilv))
	}
	must(enc.Finish(Descriptor{}))
	s := openStore(t, path)

	deepEqual(t, keysOf(collect(t, s.Scan(PrefixRange("\xff").Reversed()))), []string{"\xff\xff\x00", "\xff\xff", "\xff\x01", "\xff"})
	deepEqual(t, keysOf(collect(t, s.Scan(PrefixRange("\xff\xff").Reversed()))), []string{"\xff\xff\x00", "\xff\xff"})
	deepEqual(t, keysOf(collect(t, s.Scan(PrefixRange("\xfe").Reversed()))), []string{"\xfe"})
}

func TestPrefixEnd(t *testing.T) {
	deepEqual(t, prefixEnd([]byte("ab")), []byte("ac"))
	deepEqual(t, prefixEnd([]byte{0x01, 0xFF}), []byte{0x02})
	if end := prefixEnd([]byte{0xFF, 0xFF}); end != nil {
		t.Errorf("** prefixEnd(ff ff) = %x, wanted nil", end)
	}
	if end := prefixEnd(nil); end != nil {
		t.Errorf("** prefixEnd(nil) = %x, wanted nil", end)
	}
}

func TestKeyRangeNormalized(t *testing.T) {
	r := RangeII("A", "Z").Prefixed("Lo").normalized(false)
	deepEqual(t, r.Lower+r.Upper+r.Prefix, "azlo")
	r = RangeII("A", "Z").normalized(true)
	deepEqual(t, r.Lower+r.Upper, "AZ")
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

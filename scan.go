package refstore

import (
	"bytes"

	"go.etcd.io/bbolt"
)

// KeyRange selects an ordered run of keys. The constructors use mnemonics:
// O means open, I means inclusive, E means exclusive; the first letter is for
// the lower bound, the second for the upper bound.
//
// Bounds and prefixes are matched against stored (normalized) keys;
// Connection normalizes them for you.
type KeyRange struct {
	Prefix   string
	Lower    string
	Upper    string
	HasLower bool
	HasUpper bool
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func AllKeys() KeyRange              { return KeyRange{} }
func PrefixRange(p string) KeyRange  { return KeyRange{Prefix: p} }
func RangeIO(l string) KeyRange      { return KeyRange{Lower: l, HasLower: true, LowerInc: true} }
func RangeEO(l string) KeyRange      { return KeyRange{Lower: l, HasLower: true} }
func RangeOI(u string) KeyRange      { return KeyRange{Upper: u, HasUpper: true, UpperInc: true} }
func RangeOE(u string) KeyRange      { return KeyRange{Upper: u, HasUpper: true} }
func RangeII(l, u string) KeyRange {
	return KeyRange{Lower: l, Upper: u, HasLower: true, HasUpper: true, LowerInc: true, UpperInc: true}
}
func RangeIE(l, u string) KeyRange {
	return KeyRange{Lower: l, Upper: u, HasLower: true, HasUpper: true, LowerInc: true}
}
func (r KeyRange) Prefixed(p string) KeyRange { r.Prefix = p; return r }
func (r KeyRange) Reversed() KeyRange         { r.Reverse = true; return r }

func (r KeyRange) normalized(caseSensitive bool) KeyRange {
	r.Prefix = NormalizeKey(r.Prefix, caseSensitive)
	r.Lower = NormalizeKey(r.Lower, caseSensitive)
	r.Upper = NormalizeKey(r.Upper, caseSensitive)
	return r
}

// rangeCursor walks a bbolt cursor within a KeyRange.
type rangeCursor struct {
	r      KeyRange
	c      *bbolt.Cursor
	prefix []byte
	lower  []byte
	upper  []byte
}

func newRangeCursor(r KeyRange, c *bbolt.Cursor) *rangeCursor {
	rc := &rangeCursor{r: r, c: c}
	if r.Prefix != "" {
		rc.prefix = []byte(r.Prefix)
	}
	if r.HasLower {
		rc.lower = []byte(r.Lower)
	}
	if r.HasUpper {
		rc.upper = []byte(r.Upper)
	}
	return rc
}

func (rc *rangeCursor) first() ([]byte, []byte) {
	var k, v []byte
	if rc.r.Reverse {
		switch {
		case rc.upper != nil && (rc.prefix == nil || bytes.Compare(rc.upper, rc.prefix) < 0 || bytes.HasPrefix(rc.upper, rc.prefix)):
			k, v = seekLE(rc.c, rc.upper)
			if k != nil && !rc.r.UpperInc && bytes.Equal(k, rc.upper) {
				k, v = rc.c.Prev()
			}
		case rc.prefix != nil:
			k, v = seekLastWithPrefix(rc.c, rc.prefix)
		default:
			k, v = rc.c.Last()
		}
	} else {
		switch {
		case rc.lower != nil:
			k, v = rc.c.Seek(rc.lower)
			if k != nil && !rc.r.LowerInc && bytes.Equal(k, rc.lower) {
				k, v = rc.c.Next()
			}
			if k != nil && rc.prefix != nil && bytes.Compare(k, rc.prefix) < 0 {
				k, v = rc.c.Seek(rc.prefix)
			}
		case rc.prefix != nil:
			k, v = rc.c.Seek(rc.prefix)
		default:
			k, v = rc.c.First()
		}
	}
	return rc.check(k, v)
}

func (rc *rangeCursor) next() ([]byte, []byte) {
	var k, v []byte
	if rc.r.Reverse {
		k, v = rc.c.Prev()
	} else {
		k, v = rc.c.Next()
	}
	return rc.check(k, v)
}

func (rc *rangeCursor) check(k, v []byte) ([]byte, []byte) {
	if k == nil || !rc.match(k) {
		return nil, nil
	}
	return k, v
}

func (rc *rangeCursor) match(k []byte) bool {
	if rc.prefix != nil && !bytes.HasPrefix(k, rc.prefix) {
		return false
	}
	if rc.r.Reverse {
		if rc.lower != nil {
			cmp := bytes.Compare(k, rc.lower)
			if cmp < 0 || (cmp == 0 && !rc.r.LowerInc) {
				return false
			}
		}
	} else {
		if rc.upper != nil {
			cmp := bytes.Compare(k, rc.upper)
			if cmp > 0 || (cmp == 0 && !rc.r.UpperInc) {
				return false
			}
		}
	}
	return true
}

// seekLE positions the cursor at the last key <= target.
func seekLE(c *bbolt.Cursor, target []byte) ([]byte, []byte) {
	k, v := c.Seek(target)
	if k == nil {
		return c.Last()
	}
	if bytes.Equal(k, target) {
		return k, v
	}
	return c.Prev()
}

// seekLastWithPrefix positions the cursor at the last key starting with
// prefix, or at the key just before where it would be.
func seekLastWithPrefix(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	if end := prefixEnd(prefix); end != nil {
		k, _ := c.Seek(end)
		if k == nil {
			return c.Last()
		}
		return c.Prev()
	}

	// All-0xFF prefix: walk forward past it.
	k, _ := c.Seek(prefix)
	for k != nil && bytes.HasPrefix(k, prefix) {
		k, _ = c.Next()
	}
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

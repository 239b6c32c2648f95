package refstore

import (
	"fmt"
	"iter"
)

// Connection is a read-only view on a cached store that normalizes keys
// with its own case policy. Connections are cheap values handed out by
// the ConnectionManager; they own nothing and need no closing.
//
// All methods are safe for concurrent use. Missing keys are reported with
// found=false, never as errors.
type Connection struct {
	store         *Store
	caseSensitive bool
}

func newConnection(s *Store, caseSensitive bool) *Connection {
	return &Connection{store: s, caseSensitive: caseSensitive}
}

func (c *Connection) Reference() Reference {
	return c.store.Reference()
}

func (c *Connection) Descriptor() Descriptor {
	return c.store.Descriptor()
}

func (c *Connection) CaseSensitive() bool {
	return c.caseSensitive
}

func (c *Connection) key(k string) string {
	return NormalizeKey(k, c.caseSensitive)
}

func (c *Connection) Get(key string) ([]byte, bool, error) {
	return c.store.Get(c.key(key))
}

func (c *Connection) codec(kind CodecKind) (Codec, error) {
	codec := c.store.desc.Codec
	if codec.Kind != kind {
		return codec, fmt.Errorf("refstore: %v holds %v values, not %v", c.store.desc.Reference, codec, kind)
	}
	return codec, nil
}

func (c *Connection) GetString(key string) (string, bool, error) {
	codec, err := c.codec(CodecString)
	if err != nil {
		return "", false, err
	}
	raw, found, err := c.Get(key)
	if err != nil || !found {
		return "", found, err
	}
	s, err := codec.DecodeString(raw)
	return s, true, err
}

func (c *Connection) GetVector(key string) ([]float32, bool, error) {
	codec, err := c.codec(CodecVector)
	if err != nil {
		return nil, false, err
	}
	raw, found, err := c.Get(key)
	if err != nil || !found {
		return nil, found, err
	}
	vec, err := codec.DecodeVector(raw)
	return vec, true, err
}

// GetValue decodes a msgpack value into ptr.
func (c *Connection) GetValue(key string, ptr any) (bool, error) {
	codec, err := c.codec(CodecMsgPack)
	if err != nil {
		return false, err
	}
	raw, found, err := c.Get(key)
	if err != nil || !found {
		return found, err
	}
	return true, codec.DecodeValue(raw, ptr)
}

// PrefixScan enumerates entries whose normalized key starts with the
// normalized prefix, in key order.
func (c *Connection) PrefixScan(prefix string) iter.Seq2[Entry, error] {
	return c.store.PrefixScan(c.key(prefix))
}

func (c *Connection) Scan(r KeyRange) iter.Seq2[Entry, error] {
	return c.store.Scan(r.normalized(c.caseSensitive))
}

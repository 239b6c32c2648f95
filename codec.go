package refstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

// CodecKind enumerates value encodings. The set is closed: a store picks
// one at build time and records it in its descriptor.
type CodecKind uint8

const (
	CodecString CodecKind = iota + 1
	CodecVector
	CodecMsgPack
)

func (k CodecKind) String() string {
	switch k {
	case CodecString:
		return "string"
	case CodecVector:
		return "vector"
	case CodecMsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("codec(%d)", uint8(k))
	}
}

func (k CodecKind) MarshalText() ([]byte, error) {
	if k < CodecString || k > CodecMsgPack {
		return nil, fmt.Errorf("invalid codec kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *CodecKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "string":
		*k = CodecString
	case "vector":
		*k = CodecVector
	case "msgpack":
		*k = CodecMsgPack
	default:
		return fmt.Errorf("unknown codec %q", text)
	}
	return nil
}

// Codec describes how the values of a store are encoded. Dim is the number
// of float32 elements for CodecVector and zero otherwise.
type Codec struct {
	Kind CodecKind `yaml:"kind" msgpack:"k"`
	Dim  int       `yaml:"dim,omitempty" msgpack:"d,omitempty"`
}

func StringCodec() Codec        { return Codec{Kind: CodecString} }
func VectorCodec(dim int) Codec { return Codec{Kind: CodecVector, Dim: dim} }
func MsgPackCodec() Codec       { return Codec{Kind: CodecMsgPack} }

func (c Codec) String() string {
	if c.Kind == CodecVector {
		return fmt.Sprintf("vector[%d]", c.Dim)
	}
	return c.Kind.String()
}

func (c Codec) check() error {
	switch c.Kind {
	case CodecString, CodecMsgPack:
		if c.Dim != 0 {
			return fmt.Errorf("codec %v does not take a dimension", c.Kind)
		}
	case CodecVector:
		if c.Dim <= 0 {
			return fmt.Errorf("vector codec needs a positive dimension, got %d", c.Dim)
		}
	default:
		return fmt.Errorf("invalid codec kind %d", uint8(c.Kind))
	}
	return nil
}

// Validate checks that value is a well-formed encoding under c.
func (c Codec) Validate(value []byte) error {
	switch c.Kind {
	case CodecString:
		if !utf8.Valid(value) {
			return dataErrf(value, 0, nil, "invalid UTF-8")
		}
	case CodecVector:
		if len(value) != 4*c.Dim {
			return dataErrf(value, 0, nil, "vector is %d bytes, wanted %d", len(value), 4*c.Dim)
		}
	case CodecMsgPack:
		r := bytes.NewReader(value)
		dec := msgpack.GetDecoder()
		dec.Reset(r)
		err := dec.Skip()
		msgpack.PutDecoder(dec)
		if err != nil {
			return dataErrf(value, 0, err, "invalid msgpack")
		}
		if r.Len() > 0 {
			off := len(value) - r.Len()
			return dataErrf(value, off, nil, "%d trailing bytes after msgpack value", r.Len())
		}
	default:
		return c.check()
	}
	return nil
}

func (c Codec) EncodeString(s string) []byte {
	c.mustBe(CodecString)
	return []byte(s)
}

func (c Codec) DecodeString(value []byte) (string, error) {
	c.mustBe(CodecString)
	return string(value), nil
}

func (c Codec) EncodeVector(vec []float32) []byte {
	c.mustBe(CodecVector)
	if len(vec) != c.Dim {
		panic(fmt.Errorf("vector has %d elements, codec wants %d", len(vec), c.Dim))
	}
	return appendVector(make([]byte, 0, 4*len(vec)), vec)
}

func (c Codec) DecodeVector(value []byte) ([]float32, error) {
	c.mustBe(CodecVector)
	if len(value) != 4*c.Dim {
		return nil, dataErrf(value, 0, nil, "vector is %d bytes, wanted %d", len(value), 4*c.Dim)
	}
	vec := make([]float32, c.Dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(value[4*i:]))
	}
	return vec, nil
}

func (c Codec) EncodeValue(v any) ([]byte, error) {
	c.mustBe(CodecMsgPack)
	return encodeMsgPack(nil, v)
}

func (c Codec) DecodeValue(value []byte, ptr any) error {
	c.mustBe(CodecMsgPack)
	return decodeMsgPack(value, ptr)
}

func (c Codec) mustBe(kind CodecKind) {
	if c.Kind != kind {
		panic(fmt.Errorf("codec is %v, not %v", c, kind))
	}
}

func appendVector(buf []byte, vec []float32) []byte {
	off, buf := grow(buf, 4*len(vec))
	for _, f := range vec {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	return buf
}

func encodeMsgPack(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

func decodeMsgPack(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

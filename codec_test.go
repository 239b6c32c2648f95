package refstore

import (
	"errors"
	"testing"
)

func TestCodecValidate(t *testing.T) {
	tests := []struct {
		codec Codec
		value []byte
		ok    bool
	}{
		{StringCodec(), []byte("hello"), true},
		{StringCodec(), []byte{}, true},
		{StringCodec(), []byte{0xFF, 0xFE}, false},
		{VectorCodec(2), appendVector(nil, []float32{1, 2}), true},
		{VectorCodec(2), appendVector(nil, []float32{1}), false},
		{MsgPackCodec(), must(encodeMsgPack(nil, map[string]any{"re": "^a+$"})), true},
		{MsgPackCodec(), []byte{0xC1}, false},
		{MsgPackCodec(), []byte{}, false},
		{MsgPackCodec(), []byte{0xC0}, true},
		{MsgPackCodec(), []byte{0xC0, 0xFF}, false},
		{MsgPackCodec(), append(must(encodeMsgPack(nil, "x")), 0x01), false},
	}
	for _, tt := range tests {
		err := tt.codec.Validate(tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("%v.Validate(%x) = %v, wanted ok=%v", tt.codec, tt.value, err, tt.ok)
		}
		var de *DataError
		if err != nil && !errors.As(err, &de) {
			t.Errorf("%v.Validate(%x) = %T, wanted *DataError", tt.codec, tt.value, err)
		}
	}
}

func TestCodecCheck(t *testing.T) {
	if err := VectorCodec(0).check(); err == nil {
		t.Errorf("VectorCodec(0).check() = nil, wanted error")
	}
	if err := (Codec{}).check(); err == nil {
		t.Errorf("Codec{}.check() = nil, wanted error")
	}
	if err := StringCodec().check(); err != nil {
		t.Errorf("StringCodec().check() = %v", err)
	}
}

func TestCodecVectorRoundTrip(t *testing.T) {
	c := VectorCodec(3)
	vec := []float32{0.5, -1.25, 3e10}
	deepEqual(t, must(c.DecodeVector(c.EncodeVector(vec))), vec)

	if _, err := c.DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Errorf("DecodeVector(short) = nil error")
	}
}

func TestCodecValueRoundTrip(t *testing.T) {
	type pattern struct {
		Regex string `msgpack:"re"`
		Label string `msgpack:"l"`
	}
	c := MsgPackCodec()
	in := pattern{`\d{4}-\d{2}`, "DATE"}
	var out pattern
	ensure(c.DecodeValue(must(c.EncodeValue(in)), &out))
	deepEqual(t, out, in)
}

func TestCodecWrongKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	StringCodec().EncodeVector([]float32{1})
}

func TestCodecKindText(t *testing.T) {
	for _, k := range []CodecKind{CodecString, CodecVector, CodecMsgPack} {
		text := must(k.MarshalText())
		var got CodecKind
		ensure(got.UnmarshalText(text))
		deepEqual(t, got, k)
	}
	var k CodecKind
	if err := k.UnmarshalText([]byte("bogus")); err == nil {
		t.Errorf("UnmarshalText(bogus) = nil, wanted error")
	}
}

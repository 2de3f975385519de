package docdb

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// KindRegistry is the closed, versioned set of value shapes a Codec
// accepts. Registering an unknown kind fails at construction time, not at
// first use. The version is written into every blob so that a future
// registry change stays verifiable against previously written data.
type KindRegistry struct {
	version uint64
	kinds   [kindCount]bool
}

// NewKindRegistry builds a registry for the given kinds.
func NewKindRegistry(version uint64, kinds ...Kind) (*KindRegistry, error) {
	if version == 0 {
		return nil, fmt.Errorf("registry version must be positive")
	}
	r := &KindRegistry{version: version}
	for _, k := range kinds {
		if k >= kindCount {
			return nil, fmt.Errorf("unsupported value kind %d", uint8(k))
		}
		r.kinds[k] = true
	}
	if !r.kinds[KindNull] {
		return nil, fmt.Errorf("registry must support Null")
	}
	return r, nil
}

// DefaultRegistry supports every kind, at version 1.
func DefaultRegistry() *KindRegistry {
	r, err := NewKindRegistry(1,
		KindNull, KindGuid, KindDateTime, KindNumber, KindBool, KindText, KindArray, KindObject)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *KindRegistry) supports(k Kind) bool {
	return k < kindCount && r.kinds[k]
}

// Codec serializes documents and schemas to msgpack byte blobs. Multiple
// codec configurations can coexist; there is no shared static state.
type Codec struct {
	reg *KindRegistry
}

func NewCodec(reg *KindRegistry) *Codec {
	return &Codec{reg: reg}
}

// EncodeDocument serializes a document. Map keys are written sorted, so
// the output is deterministic.
func (c *Codec) EncodeDocument(doc Document) ([]byte, error) {
	var bb bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := c.encodeTopLevel(enc, func() error {
		return c.encodeFieldMap(enc, doc)
	})
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}

// DecodeDocument is the inverse of EncodeDocument.
// DecodeDocument(EncodeDocument(d)) == d for every representable document.
func (c *Codec) DecodeDocument(data []byte) (Document, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	defer msgpack.PutDecoder(dec)

	if err := c.decodeHeader(dec, data); err != nil {
		return nil, err
	}
	m, err := c.decodeFieldMap(dec, data)
	if err != nil {
		return nil, err
	}
	return Document(m), nil
}

func (c *Codec) encodeTopLevel(enc *msgpack.Encoder, body func() error) error {
	if err := enc.EncodeUint(c.reg.version); err != nil {
		return err
	}
	return body()
}

func (c *Codec) decodeHeader(dec *msgpack.Decoder, data []byte) error {
	ver, err := dec.DecodeUint64()
	if err != nil {
		return dataErrf(data, err, "cannot read blob version")
	}
	if ver > c.reg.version {
		return dataErrf(data, nil, "blob version %d newer than registry version %d", ver, c.reg.version)
	}
	return nil
}

func (c *Codec) encodeFieldMap(enc *msgpack.Encoder, m map[string]Value) error {
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := c.encodeValue(enc, m[k]); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (c *Codec) encodeValue(enc *msgpack.Encoder, v Value) error {
	k := v.Kind()
	if !c.reg.supports(k) {
		return fmt.Errorf("kind %v not in codec registry", k)
	}
	if err := enc.EncodeUint(uint64(k)); err != nil {
		return err
	}
	switch k {
	case KindNull:
		return nil
	case KindBool:
		return enc.EncodeBool(v.BoolValue())
	case KindNumber:
		return enc.EncodeFloat64(v.NumberValue())
	case KindText:
		return enc.EncodeString(v.TextValue())
	case KindGuid:
		g := v.GuidValue()
		return enc.EncodeBytes(g[:])
	case KindDateTime:
		t := v.TimeValue()
		if err := enc.EncodeInt(t.UnixMilli()); err != nil {
			return err
		}
		return nil
	case KindArray:
		el := v.ArrayValue()
		if err := enc.EncodeArrayLen(len(el)); err != nil {
			return err
		}
		for _, e := range el {
			if err := c.encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		return c.encodeFieldMap(enc, v.ObjectValue())
	}
	return fmt.Errorf("kind %v not encodable", k)
}

func (c *Codec) decodeFieldMap(dec *msgpack.Decoder, data []byte) (map[string]Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, dataErrf(data, err, "cannot read field map")
	}
	m := make(map[string]Value, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, dataErrf(data, err, "cannot read field name")
		}
		v, err := c.decodeValue(dec, data)
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
	return m, nil
}

func (c *Codec) decodeValue(dec *msgpack.Decoder, data []byte) (Value, error) {
	kc, err := dec.DecodeUint64()
	if err != nil {
		return Null(), dataErrf(data, err, "cannot read value kind")
	}
	k := Kind(kc)
	if !c.reg.supports(k) {
		return Null(), dataErrf(data, nil, "kind %d not in codec registry", kc)
	}
	switch k {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read bool")
		}
		return Bool(b), nil
	case KindNumber:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read number")
		}
		return Number(f), nil
	case KindText:
		s, err := dec.DecodeString()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read text")
		}
		return Text(s), nil
	case KindGuid:
		b, err := dec.DecodeBytes()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read guid")
		}
		g, err := uuid.FromBytes(b)
		if err != nil {
			return Null(), dataErrf(data, err, "bad guid length %d", len(b))
		}
		return Guid(g), nil
	case KindDateTime:
		ms, err := dec.DecodeInt64()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read datetime")
		}
		return DateTime(time.UnixMilli(ms).UTC()), nil
	case KindArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Null(), dataErrf(data, err, "cannot read array length")
		}
		el := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			e, err := c.decodeValue(dec, data)
			if err != nil {
				return Null(), err
			}
			el = append(el, e)
		}
		return Array(el), nil
	case KindObject:
		m, err := c.decodeFieldMap(dec, data)
		if err != nil {
			return Null(), err
		}
		return Object(m), nil
	}
	return Null(), dataErrf(data, nil, "kind %d not decodable", kc)
}

// EncodeSchema serializes a schema snapshot.
func (c *Codec) EncodeSchema(s *Schema) ([]byte, error) {
	fields := s.Fields()
	var bb bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := c.encodeTopLevel(enc, func() error {
		if err := enc.EncodeArrayLen(len(fields)); err != nil {
			return err
		}
		for _, f := range fields {
			if err := encodeSchemaField(enc, f); err != nil {
				return err
			}
		}
		return nil
	})
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}

// DecodeSchemaFields is the inverse of EncodeSchema.
func (c *Codec) DecodeSchemaFields(data []byte) ([]Field, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	defer msgpack.PutDecoder(dec)

	if err := c.decodeHeader(dec, data); err != nil {
		return nil, err
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, dataErrf(data, err, "cannot read schema field count")
	}
	fields := make([]Field, 0, n)
	for i := 0; i < n; i++ {
		f, err := decodeSchemaField(dec, data)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func encodeSchemaField(enc *msgpack.Encoder, f Field) error {
	if err := enc.EncodeString(f.Name); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(f.Type)); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(f.ElementType)); err != nil {
		return err
	}
	if err := enc.EncodeBool(f.Tokenized); err != nil {
		return err
	}
	maxValues := -1
	if f.Facet != nil {
		maxValues = f.Facet.MaxValues
	}
	return enc.EncodeInt(int64(maxValues))
}

func decodeSchemaField(dec *msgpack.Decoder, data []byte) (Field, error) {
	var f Field
	var err error
	if f.Name, err = dec.DecodeString(); err != nil {
		return f, dataErrf(data, err, "cannot read schema field name")
	}
	t, err := dec.DecodeUint64()
	if err != nil {
		return f, dataErrf(data, err, "cannot read schema field type")
	}
	f.Type = DataType(t)
	et, err := dec.DecodeUint64()
	if err != nil {
		return f, dataErrf(data, err, "cannot read schema element type")
	}
	f.ElementType = DataType(et)
	if f.Tokenized, err = dec.DecodeBool(); err != nil {
		return f, dataErrf(data, err, "cannot read schema tokenized flag")
	}
	maxValues, err := dec.DecodeInt64()
	if err != nil {
		return f, dataErrf(data, err, "cannot read schema facet settings")
	}
	if maxValues >= 0 {
		f.Facet = &FacetSettings{MaxValues: int(maxValues)}
	}
	return f, nil
}

package abi

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	wordSize     = 8
	b256Size     = 32
	maxTypeDepth = 32
)

type typeKind uint8

const (
	kindBool typeKind = iota
	kindU8
	kindU16
	kindU32
	kindU64
	kindU256
	kindB256
	kindUnit
	kindStruct
	kindEnum
)

var primitiveKinds = map[string]typeKind{
	"bool": kindBool,
	"u8":   kindU8,
	"u16":  kindU16,
	"u32":  kindU32,
	"u64":  kindU64,
	"u256": kindU256,
	"b256": kindB256,
	"()":   kindUnit,
}

var intWidths = map[typeKind]int{
	kindU8:  1,
	kindU16: 2,
	kindU32: 4,
	kindU64: 8,
}

// shape is the resolved layout of an ABI type.
type shape struct {
	kind       typeKind
	typeName   string
	components []component
}

type component struct {
	name  string
	shape *shape
}

type shapeResolver struct {
	concrete map[string]ConcreteType
	metadata map[int]MetadataType
}

func newShapeResolver(doc *Document) *shapeResolver {
	r := &shapeResolver{
		concrete: make(map[string]ConcreteType, len(doc.ConcreteTypes)),
		metadata: make(map[int]MetadataType, len(doc.MetadataTypes)),
	}
	for _, ct := range doc.ConcreteTypes {
		r.concrete[ct.ConcreteTypeID] = ct
	}
	for _, mt := range doc.MetadataTypes {
		r.metadata[mt.MetadataTypeID] = mt
	}
	return r
}

func (r *shapeResolver) fromConcrete(ct ConcreteType, depth int) (*shape, error) {
	if len(ct.TypeArguments) > 0 {
		return nil, fmt.Errorf("%w: generic type %s", ErrUnsupportedType, ct.Type)
	}

	if ct.MetadataTypeID == nil {
		return primitiveShape(ct.Type)
	}

	mt, ok := r.metadata[*ct.MetadataTypeID]
	if !ok {
		return nil, fmt.Errorf("%w: metadata type %d of %s", ErrUnknownConcreteType, *ct.MetadataTypeID, ct.Type)
	}

	return r.fromMetadata(mt, depth)
}

func (r *shapeResolver) fromMetadata(mt MetadataType, depth int) (*shape, error) {
	if depth > maxTypeDepth {
		return nil, fmt.Errorf("%w: %s nests too deeply", ErrUnsupportedType, mt.Type)
	}

	if len(mt.TypeParameters) > 0 {
		return nil, fmt.Errorf("%w: generic type %s", ErrUnsupportedType, mt.Type)
	}

	var kind typeKind
	switch {
	case strings.HasPrefix(mt.Type, "struct "):
		kind = kindStruct
	case strings.HasPrefix(mt.Type, "enum "):
		kind = kindEnum
		if len(mt.Components) == 0 {
			return nil, fmt.Errorf("%w: enum %s has no variants", ErrUnsupportedType, mt.Type)
		}
	default:
		return primitiveShape(mt.Type)
	}

	s := &shape{kind: kind, typeName: mt.Type, components: make([]component, 0, len(mt.Components))}
	for _, c := range mt.Components {
		if len(c.TypeArguments) > 0 {
			return nil, fmt.Errorf("%w: generic component %s.%s", ErrUnsupportedType, mt.Type, c.Name)
		}

		child, err := r.fromRef(c.TypeID, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", mt.Type, c.Name, err)
		}
		s.components = append(s.components, component{name: c.Name, shape: child})
	}

	return s, nil
}

func (r *shapeResolver) fromRef(ref json.RawMessage, depth int) (*shape, error) {
	var concreteID string
	if err := json.Unmarshal(ref, &concreteID); err == nil {
		ct, ok := r.concrete[concreteID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConcreteType, concreteID)
		}
		return r.fromConcrete(ct, depth)
	}

	var metadataID int
	if err := json.Unmarshal(ref, &metadataID); err != nil {
		return nil, fmt.Errorf("%w: type reference %s", ErrUnsupportedType, string(ref))
	}

	mt, ok := r.metadata[metadataID]
	if !ok {
		return nil, fmt.Errorf("%w: metadata type %d", ErrUnknownConcreteType, metadataID)
	}

	return r.fromMetadata(mt, depth)
}

func primitiveShape(typeName string) (*shape, error) {
	kind, ok := primitiveKinds[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typeName)
	}
	return &shape{kind: kind, typeName: typeName}, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, fmt.Errorf("unexpected end of payload at offset %d: need %d bytes, have %d",
			r.off, n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// decodePayload decodes a complete payload. Trailing bytes are an error.
func decodePayload(s *shape, payload []byte) (Fields, error) {
	r := &reader{buf: payload}

	v, err := decodeValue(s, r)
	if err != nil {
		return nil, err
	}

	if r.off != len(payload) {
		return nil, fmt.Errorf("%d trailing bytes after %s", len(payload)-r.off, s.typeName)
	}

	if fields, ok := v.(Fields); ok {
		return fields, nil
	}
	return Fields{"value": v}, nil
}

func decodeValue(s *shape, r *reader) (any, error) {
	switch s.kind {
	case kindBool:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		switch b[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, fmt.Errorf("invalid bool byte 0x%02x", b[0])
		}

	case kindU8, kindU16, kindU32, kindU64:
		b, err := r.take(intWidths[s.kind])
		if err != nil {
			return nil, err
		}
		var v uint64
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return v, nil

	case kindU256:
		b, err := r.take(b256Size)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).SetBytes32(b), nil

	case kindB256:
		b, err := r.take(b256Size)
		if err != nil {
			return nil, err
		}
		return common.BytesToHash(b), nil

	case kindUnit:
		return nil, nil

	case kindStruct:
		fields := make(Fields, len(s.components))
		for _, c := range s.components {
			v, err := decodeValue(c.shape, r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", c.name, err)
			}
			fields[c.name] = v
		}
		return fields, nil

	case kindEnum:
		b, err := r.take(wordSize)
		if err != nil {
			return nil, err
		}
		discriminant := binary.BigEndian.Uint64(b)
		if discriminant >= uint64(len(s.components)) {
			return nil, fmt.Errorf("%s: invalid variant %d", s.typeName, discriminant)
		}
		variant := s.components[discriminant]
		v, err := decodeValue(variant.shape, r)
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w", s.typeName, variant.name, err)
		}
		return EnumValue{Variant: variant.name, Value: v}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, s.typeName)
}

// encodeValue is the inverse of decodeValue. A struct with a single component
// also accepts that component's value directly, so {bits: h} may be given as h.
func encodeValue(s *shape, v any, out []byte) ([]byte, error) {
	switch s.kind {
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return append(out, 1), nil
		}
		return append(out, 0), nil

	case kindU8, kindU16, kindU32, kindU64:
		n, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		width := intWidths[s.kind]
		if width < wordSize && n>>(8*width) != 0 {
			return nil, fmt.Errorf("%d overflows %s", n, s.typeName)
		}
		var buf [wordSize]byte
		binary.BigEndian.PutUint64(buf[:], n)
		return append(out, buf[wordSize-width:]...), nil

	case kindU256:
		n, err := toUint256(v)
		if err != nil {
			return nil, err
		}
		b := n.Bytes32()
		return append(out, b[:]...), nil

	case kindB256:
		h, ok := v.(common.Hash)
		if !ok {
			return nil, fmt.Errorf("expected common.Hash, got %T", v)
		}
		return append(out, h.Bytes()...), nil

	case kindUnit:
		return out, nil

	case kindStruct:
		fields, ok := v.(Fields)
		if !ok {
			if len(s.components) != 1 {
				return nil, fmt.Errorf("expected Fields for %s, got %T", s.typeName, v)
			}
			fields = Fields{s.components[0].name: v}
		}
		var err error
		for _, c := range s.components {
			fv, present := fields[c.name]
			if !present {
				return nil, fmt.Errorf("%s: missing field %s", s.typeName, c.name)
			}
			if out, err = encodeValue(c.shape, fv, out); err != nil {
				return nil, fmt.Errorf("%s: %w", c.name, err)
			}
		}
		return out, nil

	case kindEnum:
		ev, ok := v.(EnumValue)
		if !ok {
			return nil, fmt.Errorf("expected EnumValue for %s, got %T", s.typeName, v)
		}
		for i, c := range s.components {
			if c.name != ev.Variant {
				continue
			}
			var buf [wordSize]byte
			binary.BigEndian.PutUint64(buf[:], uint64(i))
			return encodeValue(c.shape, ev.Value, append(out, buf[:]...))
		}
		return nil, fmt.Errorf("%s has no variant %s", s.typeName, ev.Variant)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, s.typeName)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative integer %d", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected unsigned integer, got %T", v)
	}
}

func toUint256(v any) (*uint256.Int, error) {
	switch n := v.(type) {
	case *uint256.Int:
		return n, nil
	case uint256.Int:
		return &n, nil
	default:
		u, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		return uint256.NewInt(u), nil
	}
}

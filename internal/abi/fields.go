package abi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Fields is a decoded struct keyed by field name. Values are bool, uint64,
// *uint256.Int, common.Hash, Fields or EnumValue.
type Fields map[string]any

// EnumValue is a decoded enum variant. Unit variants have a nil Value.
type EnumValue struct {
	Variant string
	Value   any
}

// Identity variants of std::identity::Identity.
const (
	IdentityAddress    = "Address"
	IdentityContractID = "ContractId"
)

// Identity is a decoded std::identity::Identity.
type Identity struct {
	Variant string
	Bits    common.Hash
}

// Hex returns the 0x-prefixed identity bits.
func (i Identity) Hex() string {
	return i.Bits.Hex()
}

// IsContract reports whether the identity is a contract id.
func (i Identity) IsContract() bool {
	return i.Variant == IdentityContractID
}

func (f Fields) get(name string) (any, error) {
	v, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("missing field %s", name)
	}
	return v, nil
}

// Bool returns a bool field.
func (f Fields) Bool(name string) (bool, error) {
	v, err := f.get(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %s: expected bool, got %T", name, v)
	}
	return b, nil
}

// Uint64 returns an integer field of at most 64 bits.
func (f Fields) Uint64(name string) (uint64, error) {
	v, err := f.get(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case uint64:
		return n, nil
	case *uint256.Int:
		if !n.IsUint64() {
			return 0, fmt.Errorf("field %s: %s overflows u64", name, n.Dec())
		}
		return n.Uint64(), nil
	default:
		return 0, fmt.Errorf("field %s: expected integer, got %T", name, v)
	}
}

// U256 returns an integer field widened to 256 bits.
func (f Fields) U256(name string) (*uint256.Int, error) {
	v, err := f.get(name)
	if err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case *uint256.Int:
		return n, nil
	case uint64:
		return uint256.NewInt(n), nil
	default:
		return nil, fmt.Errorf("field %s: expected integer, got %T", name, v)
	}
}

// Bits returns a b256 field, unwrapping std wrappers such as AssetId and ContractId.
func (f Fields) Bits(name string) (common.Hash, error) {
	v, err := f.get(name)
	if err != nil {
		return common.Hash{}, err
	}
	h, ok := unwrapBits(v)
	if !ok {
		return common.Hash{}, fmt.Errorf("field %s: expected b256, got %T", name, v)
	}
	return h, nil
}

// Identity returns a std::identity::Identity field.
func (f Fields) Identity(name string) (Identity, error) {
	v, err := f.get(name)
	if err != nil {
		return Identity{}, err
	}
	ev, ok := v.(EnumValue)
	if !ok {
		return Identity{}, fmt.Errorf("field %s: expected identity, got %T", name, v)
	}
	if ev.Variant != IdentityAddress && ev.Variant != IdentityContractID {
		return Identity{}, fmt.Errorf("field %s: unknown identity variant %s", name, ev.Variant)
	}
	h, ok := unwrapBits(ev.Value)
	if !ok {
		return Identity{}, fmt.Errorf("field %s: identity payload is %T", name, ev.Value)
	}
	return Identity{Variant: ev.Variant, Bits: h}, nil
}

func unwrapBits(v any) (common.Hash, bool) {
	switch x := v.(type) {
	case common.Hash:
		return x, true
	case Fields:
		if len(x) != 1 {
			return common.Hash{}, false
		}
		return unwrapBits(x["bits"])
	default:
		return common.Hash{}, false
	}
}

// AddressIdentity builds an Address identity value for encoding.
func AddressIdentity(bits common.Hash) EnumValue {
	return EnumValue{Variant: IdentityAddress, Value: Fields{"bits": bits}}
}

// ContractIdentity builds a ContractId identity value for encoding.
func ContractIdentity(bits common.Hash) EnumValue {
	return EnumValue{Variant: IdentityContractID, Value: Fields{"bits": bits}}
}

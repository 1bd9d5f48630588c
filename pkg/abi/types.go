// Package abi implements selector hashing and a closed-set ABI
// encoder/decoder for the contract functions this worker consumes. It
// intentionally does not depend on a general-purpose EVM ABI library:
// the supported signature set is fixed and small, so a tagged-variant
// encoder/decoder is simpler to audit than a reflective one.
package abi

import (
	"github.com/ethereum/go-ethereum/common"

	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
)

// wordSize is the ABI head/tail word size: 32 bytes.
const wordSize = 32

// Kind tags the supported argument/return value variants.
type Kind int

const (
	KindUint256 Kind = iota
	KindAddress
	KindBytes21
	KindString
	KindUint256Array
)

// Value is a single ABI-typed argument or return value.
type Value struct {
	Kind    Kind
	Uint256 []byte // big-endian, unsigned, at most 32 bytes
	Address common.Address
	Bytes21 [21]byte
	Str     string
	U256Arr [][]byte // each element big-endian, unsigned, at most 32 bytes
}

// Uint256Value builds a Value from a non-negative uint64.
func Uint256Value(v uint64) Value {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return Value{Kind: KindUint256, Uint256: trimLeadingZeros(b)}
}

// Uint256BigEndian builds a Value from an arbitrary-precision
// big-endian unsigned integer, as returned by decoding.
func Uint256BigEndian(b []byte) Value {
	return Value{Kind: KindUint256, Uint256: trimLeadingZeros(b)}
}

// AddressValue builds a Value from a 20-byte address.
func AddressValue(a common.Address) Value {
	return Value{Kind: KindAddress, Address: a}
}

// StringValue builds a Value from a UTF-8 string.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Uint256ArrayValue builds a Value from a slice of uint64s.
func Uint256ArrayValue(vals []uint64) Value {
	arr := make([][]byte, len(vals))
	for i, v := range vals {
		arr[i] = Uint256Value(v).Uint256
	}
	return Value{Kind: KindUint256Array, U256Arr: arr}
}

// AsUint64 returns v's uint256 payload as a uint64, for values known to
// fit (request ids, confidence scores, timestamps in this contract).
func (v Value) AsUint64() uint64 {
	var out uint64
	for _, b := range v.Uint256 {
		out = out<<8 | uint64(b)
	}
	return out
}

func trimLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// isDynamic reports whether a Kind's encoding occupies the tail area.
func isDynamic(k Kind) bool {
	return k == KindString || k == KindUint256Array
}

func encodeErr(msg string) error {
	return werrors.Coded(werrors.ErrAbiEncode, werrors.CodeAbiEncode, werrors.CategoryAbi, false, msg)
}

func decodeErr(msg string) error {
	return werrors.Coded(werrors.ErrAbiDecode, werrors.CodeAbiDecode, werrors.CategoryAbi, false, msg)
}

package abi

import (
	"encoding/binary"
	"fmt"
)

// argKinds lists the expected argument kinds for each supported
// signature, in call order.
var argKinds = map[Signature][]Kind{
	SigGetPendingRequests:    {},
	SigGetAnalysisRequest:    {KindUint256},
	SigGetSNPDataForAnalysis: {KindUint256},
	SigSubmitAnalysisResult:  {KindUint256, KindString, KindUint256, KindString},
	SigMarkAnalysisFailed:    {KindUint256, KindString},
}

// EncodeCall builds selector ‖ headArea ‖ tailArea for sig applied to
// args. Dynamic arguments (string, uint256[]) place a 32-byte offset
// (measured from the start of the argument block, i.e. not counting
// the 4-byte selector) in the head and their length-prefixed,
// 32-byte-padded payload in the tail.
func EncodeCall(sig Signature, args []Value) ([]byte, error) {
	expected, ok := argKinds[sig]
	if !ok {
		return nil, encodeErr(fmt.Sprintf("unsupported signature %q", sig))
	}
	if len(args) != len(expected) {
		return nil, encodeErr(fmt.Sprintf("%s: expected %d args, got %d", sig, len(expected), len(args)))
	}
	for i, v := range args {
		if v.Kind != expected[i] {
			return nil, encodeErr(fmt.Sprintf("%s: arg %d: kind mismatch", sig, i))
		}
	}

	head := make([]byte, 0, wordSize*len(args))
	tail := make([]byte, 0)
	headSize := wordSize * len(args)

	for _, v := range args {
		switch v.Kind {
		case KindUint256:
			word, err := encodeUint256(v.Uint256)
			if err != nil {
				return nil, err
			}
			head = append(head, word...)
		case KindAddress:
			head = append(head, encodeAddress(v.Address)...)
		case KindBytes21:
			head = append(head, encodeBytes21(v.Bytes21)...)
		case KindString:
			offset := headSize + len(tail)
			head = append(head, encodeOffset(offset)...)
			tail = append(tail, encodeString(v.Str)...)
		case KindUint256Array:
			offset := headSize + len(tail)
			head = append(head, encodeOffset(offset)...)
			payload, err := encodeUint256Array(v.U256Arr)
			if err != nil {
				return nil, err
			}
			tail = append(tail, payload...)
		default:
			return nil, encodeErr("unsupported argument kind")
		}
	}

	selector := Selector(sig)
	out := make([]byte, 0, 4+len(head)+len(tail))
	out = append(out, selector[:]...)
	out = append(out, head...)
	out = append(out, tail...)
	return out, nil
}

func encodeOffset(offset int) []byte {
	word := make([]byte, wordSize)
	binary.BigEndian.PutUint64(word[wordSize-8:], uint64(offset))
	return word
}

func encodeUint256(be []byte) ([]byte, error) {
	if len(be) > wordSize {
		return nil, encodeErr("uint256 value overflows 32 bytes")
	}
	word := make([]byte, wordSize)
	copy(word[wordSize-len(be):], be)
	return word, nil
}

func encodeAddress(a [20]byte) []byte {
	word := make([]byte, wordSize)
	copy(word[wordSize-20:], a[:])
	return word
}

func encodeBytes21(b [21]byte) []byte {
	word := make([]byte, wordSize)
	copy(word, b[:]) // bytesN types are right-padded, unlike address/uint
	return word
}

func encodeString(s string) []byte {
	data := []byte(s)
	lenWord := encodeOffset(len(data))
	padded := padTo32(data)
	out := make([]byte, 0, len(lenWord)+len(padded))
	out = append(out, lenWord...)
	out = append(out, padded...)
	return out
}

func encodeUint256Array(elems [][]byte) ([]byte, error) {
	out := encodeOffset(len(elems))
	for _, e := range elems {
		word, err := encodeUint256(e)
		if err != nil {
			return nil, err
		}
		out = append(out, word...)
	}
	return out, nil
}

// padTo32 zero-pads data to a 32-byte boundary. A zero-length input
// still yields a zero-length payload; callers that need the length
// word present even for empty strings rely on encodeString's leading
// length word, not on this function.
func padTo32(data []byte) []byte {
	rem := len(data) % wordSize
	if rem == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	padded := make([]byte, len(data)+(wordSize-rem))
	copy(padded, data)
	return padded
}

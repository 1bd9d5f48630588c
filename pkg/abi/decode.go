package abi

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeUint256 decodes a single static uint256 head word.
func DecodeUint256(data []byte) (Value, error) {
	word, err := readWord(data, 0)
	if err != nil {
		return Value{}, err
	}
	return Uint256BigEndian(word), nil
}

// DecodeAddress decodes a single static address head word.
func DecodeAddress(data []byte) (Value, error) {
	word, err := readWord(data, 0)
	if err != nil {
		return Value{}, err
	}
	var addr common.Address
	copy(addr[:], word[wordSize-20:])
	return AddressValue(addr), nil
}

// DecodeUint256Array decodes a dynamic uint256[] return value: data is
// the full return payload, headWordIndex selects which head word holds
// the array's offset.
func DecodeUint256Array(data []byte, headWordIndex int) (Value, error) {
	offsetWord, err := readWord(data, headWordIndex*wordSize)
	if err != nil {
		return Value{}, err
	}
	offset := int(beToUint64(offsetWord))

	lenWord, err := readWord(data, offset)
	if err != nil {
		return Value{}, decodeErr("uint256[]: truncated length")
	}
	n := int(beToUint64(lenWord))
	if n < 0 {
		return Value{}, decodeErr("uint256[]: negative length")
	}

	elems := make([][]byte, n)
	base := offset + wordSize
	for i := 0; i < n; i++ {
		w, err := readWord(data, base+i*wordSize)
		if err != nil {
			return Value{}, decodeErr("uint256[]: truncated element")
		}
		elems[i] = append([]byte(nil), trimLeadingZeros(w)...)
	}
	return Value{Kind: KindUint256Array, U256Arr: elems}, nil
}

// DecodeString decodes a dynamic string return value: data is the full
// return payload, headWordIndex selects which head word holds the
// string's offset.
func DecodeString(data []byte, headWordIndex int) (Value, error) {
	offsetWord, err := readWord(data, headWordIndex*wordSize)
	if err != nil {
		return Value{}, err
	}
	offset := int(beToUint64(offsetWord))

	lenWord, err := readWord(data, offset)
	if err != nil {
		return Value{}, decodeErr("string: truncated length")
	}
	n := int(beToUint64(lenWord))
	if n < 0 {
		return Value{}, decodeErr("string: negative length")
	}

	start := offset + wordSize
	end := start + n
	if end > len(data) {
		return Value{}, decodeErr("string: payload overflows buffer")
	}
	raw := data[start:end]
	if !utf8.Valid(raw) {
		return Value{}, decodeErr("string: invalid UTF-8")
	}
	return StringValue(string(raw)), nil
}

// AnalysisRequestTuple is the decoded return of getAnalysisRequest:
// (address,address,address,string,string,uint256,uint256) for
// requester, user1, user2, status, result, requestTime, completionTime.
type AnalysisRequestTuple struct {
	Requester      common.Address
	User1          common.Address
	User2          common.Address
	Status         string
	Result         string
	RequestTime    uint64
	CompletionTime uint64
}

// DecodeAnalysisRequest decodes the fixed 7-field tuple returned by
// getAnalysisRequest(uint256).
func DecodeAnalysisRequest(data []byte) (AnalysisRequestTuple, error) {
	var out AnalysisRequestTuple

	requester, err := DecodeAddress(data[0*wordSize:])
	if err != nil {
		return out, decodeErr("getAnalysisRequest: requester: " + err.Error())
	}
	user1, err := DecodeAddress(data[1*wordSize:])
	if err != nil {
		return out, decodeErr("getAnalysisRequest: user1: " + err.Error())
	}
	user2, err := DecodeAddress(data[2*wordSize:])
	if err != nil {
		return out, decodeErr("getAnalysisRequest: user2: " + err.Error())
	}
	status, err := DecodeString(data, 3)
	if err != nil {
		return out, decodeErr("getAnalysisRequest: status: " + err.Error())
	}
	result, err := DecodeString(data, 4)
	if err != nil {
		return out, decodeErr("getAnalysisRequest: result: " + err.Error())
	}
	requestTime, err := DecodeUint256(data[5*wordSize:])
	if err != nil {
		return out, decodeErr("getAnalysisRequest: requestTime: " + err.Error())
	}
	completionTime, err := DecodeUint256(data[6*wordSize:])
	if err != nil {
		return out, decodeErr("getAnalysisRequest: completionTime: " + err.Error())
	}

	out = AnalysisRequestTuple{
		Requester:      requester.Address,
		User1:          user1.Address,
		User2:          user2.Address,
		Status:         status.Str,
		Result:         result.Str,
		RequestTime:    requestTime.AsUint64(),
		CompletionTime: completionTime.AsUint64(),
	}
	return out, nil
}

// DecodeSNPPair decodes the (string,string) return of
// getSNPDataForAnalysis(uint256).
func DecodeSNPPair(data []byte) (user1Snp string, user2Snp string, err error) {
	v1, err := DecodeString(data, 0)
	if err != nil {
		return "", "", decodeErr("getSNPDataForAnalysis: user1: " + err.Error())
	}
	v2, err := DecodeString(data, 1)
	if err != nil {
		return "", "", decodeErr("getSNPDataForAnalysis: user2: " + err.Error())
	}
	return v1.Str, v2.Str, nil
}

// DecodePendingRequestIDs decodes the uint256[] return of
// getPendingRequests().
func DecodePendingRequestIDs(data []byte) ([]uint64, error) {
	v, err := DecodeUint256Array(data, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(v.U256Arr))
	for i, e := range v.U256Arr {
		out[i] = beToUint64(e)
	}
	return out, nil
}

func readWord(data []byte, offset int) ([]byte, error) {
	if offset < 0 || offset+wordSize > len(data) {
		return nil, decodeErr("truncated input or offset overflow")
	}
	return data[offset : offset+wordSize], nil
}

func beToUint64(b []byte) uint64 {
	var padded [8]byte
	if len(b) >= 8 {
		return binary.BigEndian.Uint64(b[len(b)-8:])
	}
	copy(padded[8-len(b):], b)
	return binary.BigEndian.Uint64(padded[:])
}

package abi

import "github.com/ethereum/go-ethereum/crypto"

// Signature is the canonical function signature string used to derive
// a selector, e.g. "getPendingRequests()".
type Signature string

// The signatures this worker consumes. Only these five are supported;
// EncodeCall rejects any other signature.
const (
	SigGetPendingRequests     Signature = "getPendingRequests()"
	SigGetAnalysisRequest     Signature = "getAnalysisRequest(uint256)"
	SigGetSNPDataForAnalysis  Signature = "getSNPDataForAnalysis(uint256)"
	SigSubmitAnalysisResult   Signature = "submitAnalysisResult(uint256,string,uint256,string)"
	SigMarkAnalysisFailed     Signature = "markAnalysisFailed(uint256,string)"
)

// Selector returns the first 4 bytes of keccak-256 over sig's exact
// UTF-8 bytes, per the standard EVM function-selector derivation.
func Selector(sig Signature) [4]byte {
	hash := crypto.Keccak256([]byte(sig))
	var out [4]byte
	copy(out[:], hash[:4])
	return out
}

// Package contract is a thin composition layer over the ABI codec
// and the host-runtime client: one method per contract operation the
// worker consumes, encoding the call, dispatching it, and decoding
// the return.
package contract

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/abi"
	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/hostclient"
)

// caller is the subset of hostclient.Client this package depends on,
// so tests can substitute a fake transport.
type caller interface {
	Call(ctx context.Context, to, data string) ([]byte, error)
	SubmitTx(ctx context.Context, to, data string, gas uint64) (string, error)
}

// View is the contract view adapter: getPendingRequests,
// getAnalysisRequest, getSNPDataForAnalysis, and the two terminal
// submission calls.
type View struct {
	address  common.Address
	client   caller
	gasLimit uint64
}

// New constructs a View targeting the given contract address.
func New(address common.Address, client *hostclient.Client, gasLimit uint64) *View {
	return &View{address: address, client: client, gasLimit: gasLimit}
}

// GetPendingRequests returns the ids currently awaiting analysis.
func (v *View) GetPendingRequests(ctx context.Context) ([]uint64, error) {
	data, err := abi.EncodeCall(abi.SigGetPendingRequests, nil)
	if err != nil {
		return nil, err
	}
	ret, err := v.call(ctx, data)
	if err != nil {
		return nil, err
	}
	ids, err := abi.DecodePendingRequestIDs(ret)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetAnalysisRequest returns the full request tuple for id.
func (v *View) GetAnalysisRequest(ctx context.Context, id uint64) (abi.AnalysisRequestTuple, error) {
	data, err := abi.EncodeCall(abi.SigGetAnalysisRequest, []abi.Value{abi.Uint256Value(id)})
	if err != nil {
		return abi.AnalysisRequestTuple{}, err
	}
	ret, err := v.call(ctx, data)
	if err != nil {
		return abi.AnalysisRequestTuple{}, err
	}
	return abi.DecodeAnalysisRequest(ret)
}

// GetSNPDataForAnalysis returns the two users' raw SNP datasets for
// id. TEE-only: callers MUST NOT log or persist the returned strings.
func (v *View) GetSNPDataForAnalysis(ctx context.Context, id uint64) (user1, user2 string, err error) {
	data, err := abi.EncodeCall(abi.SigGetSNPDataForAnalysis, []abi.Value{abi.Uint256Value(id)})
	if err != nil {
		return "", "", err
	}
	ret, err := v.call(ctx, data)
	if err != nil {
		return "", "", err
	}
	return abi.DecodeSNPPair(ret)
}

// SubmitAnalysisResult submits a terminal analysis result. A
// "not pending" rejection from the host is reported as
// ErrContractStateRejection, not ErrHostError, since it means another
// submission already completed this id.
func (v *View) SubmitAnalysisResult(ctx context.Context, id uint64, resultJSON string, confidence uint64, relationship string) error {
	data, err := abi.EncodeCall(abi.SigSubmitAnalysisResult, []abi.Value{
		abi.Uint256Value(id),
		abi.StringValue(resultJSON),
		abi.Uint256Value(confidence),
		abi.StringValue(relationship),
	})
	if err != nil {
		return err
	}
	_, err = v.client.SubmitTx(ctx, hexAddress(v.address), hexData(data), v.gasLimit)
	return mapSubmitError(err)
}

// MarkAnalysisFailed reports id as failed with a human-readable reason.
func (v *View) MarkAnalysisFailed(ctx context.Context, id uint64, reason string) error {
	data, err := abi.EncodeCall(abi.SigMarkAnalysisFailed, []abi.Value{
		abi.Uint256Value(id),
		abi.StringValue(reason),
	})
	if err != nil {
		return err
	}
	_, err = v.client.SubmitTx(ctx, hexAddress(v.address), hexData(data), v.gasLimit)
	return mapSubmitError(err)
}

func (v *View) call(ctx context.Context, data []byte) ([]byte, error) {
	return v.client.Call(ctx, hexAddress(v.address), hexData(data))
}

// contractStateRejectionPhrases are the host-reported rejection
// reasons spec.md §4.5 names as meaning "another submission already
// completed this id" rather than a genuine failure.
var contractStateRejectionPhrases = []string{"not pending", "already completed"}

// mapSubmitError recognizes the contract's state-rejection phrasings
// inside an otherwise-generic HostError and reclassifies them as
// ErrContractStateRejection, per spec.md §7/§9: the worker treats this
// as already-processed, not a failure.
func mapSubmitError(err error) error {
	if err == nil {
		return nil
	}
	var coded *werrors.CodedError
	if werrors.As(err, &coded) {
		lower := strings.ToLower(coded.Message)
		for _, phrase := range contractStateRejectionPhrases {
			if strings.Contains(lower, phrase) {
				return werrors.Coded(werrors.ErrContractStateRejection, werrors.CodeContractStateReject, werrors.CategoryContract, false, coded.Message)
			}
		}
	}
	return err
}

func hexAddress(a common.Address) string {
	return a.Hex()
}

func hexData(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

package errors

import (
	"errors"
	"testing"
)

func TestCodedWrapsSentinel(t *testing.T) {
	err := Coded(ErrInsufficientData, CodeInsufficientData, CategoryAnalysis, false, "insufficient data: 40 < 100")
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected wrapped error to match ErrInsufficientData via errors.Is")
	}

	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("expected errors.As to find *CodedError")
	}
	if coded.Code != CodeInsufficientData {
		t.Fatalf("code = %d, want %d", coded.Code, CodeInsufficientData)
	}
	if coded.Retryable {
		t.Fatalf("expected non-retryable")
	}
}

func TestCodedNilPassthrough(t *testing.T) {
	if Coded(nil, CodeInternal, CategoryInternal, false, "x") != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrapf(ErrHostError, "submitAnalysisResult(%d)", 7)
	if !errors.Is(err, ErrHostError) {
		t.Fatalf("expected wrapped error to match ErrHostError")
	}
}

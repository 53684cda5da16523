package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_BucketsKnownRPCErrors(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantKind  ErrorKind
		retriable bool
	}{
		{"nonceTooLow", "nonce too low", KindNonceTooLow, true},
		{"underpriced", "replacement transaction underpriced", KindUnderpriced, true},
		{"revert", "execution reverted: custom message", KindRevert, false},
		{"insufficientFunds", "insufficient funds for gas * price + value", KindInsufficientFunds, false},
		{"network", "dial tcp: connection refused", KindNetwork, true},
		{"unknown", "some unrecognized node-specific error", KindUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(errors.New(tc.raw))
			require.Equal(t, tc.wantKind, got.Kind)
			require.Equal(t, tc.retriable, got.Retriable)
		})
	}
}

func TestClassify_PassesThroughAlreadyTypedError(t *testing.T) {
	original := NewError(KindRevert, false, errors.New("execution reverted"))
	got := classify(original)
	require.Same(t, original, got)
}

func TestClassify_Nil(t *testing.T) {
	require.Nil(t, classify(nil))
}

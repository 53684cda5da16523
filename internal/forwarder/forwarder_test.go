package forwarder

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relayer"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/stretchr/testify/require"
)

func encodeExecutedEvent(t *testing.T, success bool, returnData []byte) ([]byte, error) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(string(chain.ForwarderABI)))
	require.NoError(t, err)
	event := parsed.Events["Executed"]
	return event.Inputs.NonIndexed().Pack(
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		success,
		returnData,
	)
}

func chainErrorForTest(kind chain.ErrorKind) error {
	return chain.NewError(kind, true, errors.New("test"))
}

type fakeChain struct {
	nonce          *big.Int
	verifyResult   bool
	sendErr        error
	sendResp       *chain.TxResponse
	receipt        *gethtypes.Receipt
	receiptErr     error
	readCalls      []string
	lastSendOpts   chain.TxOpts
}

func (f *fakeChain) ContractRead(_ context.Context, _ common.Address, _ []byte, fn string, _ ...interface{}) (interface{}, error) {
	f.readCalls = append(f.readCalls, fn)
	switch fn {
	case "getNonce":
		return f.nonce, nil
	case "verify":
		return f.verifyResult, nil
	}
	return nil, nil
}

func (f *fakeChain) SendContract(_ context.Context, _ *chain.Wallet, _ common.Address, _ []byte, _ string, _ []interface{}, opts chain.TxOpts) (*chain.TxResponse, error) {
	f.lastSendOpts = opts
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResp, nil
}

func (f *fakeChain) AwaitReceipt(_ context.Context, _ common.Hash, _ uint64) (*gethtypes.Receipt, error) {
	return f.receipt, f.receiptErr
}

type fakeWalletPool struct {
	wallet      *chain.Wallet
	resyncCalls int
}

func (f *fakeWalletPool) Acquire(context.Context) (*relayer.Handle, error) {
	pool, err := relayer.New(context.Background(), stubNonceSource{}, []*chain.Wallet{f.wallet}, relayer.PolicyLeastBusy)
	if err != nil {
		return nil, err
	}
	return pool.Acquire(context.Background())
}

func (f *fakeWalletPool) Resync(context.Context, *relayer.Handle) error {
	f.resyncCalls++
	return nil
}

type stubNonceSource struct{}

func (stubNonceSource) PendingNonce(context.Context, common.Address) (uint64, error) { return 0, nil }

func testWallet() *chain.Wallet {
	return &chain.Wallet{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")}
}

func testRequest() *relaytypes.ForwardRequest {
	return &relaytypes.ForwardRequest{
		From:     "0x2222222222222222222222222222222222222222",
		To:       "0x3333333333333333333333333333333333333333",
		Value:    big.NewInt(0),
		Gas:      big.NewInt(100000),
		Nonce:    big.NewInt(0),
		Deadline: 9999999999,
		Data:     "0x",
	}
}

func fixedSig() string {
	hex := ""
	for i := 0; i < 65; i++ {
		hex += "ab"
	}
	return "0x" + hex
}

func TestGetNonce(t *testing.T) {
	c := &fakeChain{nonce: big.NewInt(7)}
	svc := New(c, &fakeWalletPool{wallet: testWallet()}, common.HexToAddress("0x4444444444444444444444444444444444444444"), big.NewInt(1))

	nonce, err := svc.GetNonce(context.Background(), testWallet().Address)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), nonce)
}

func TestVerify_TrueAndFalse(t *testing.T) {
	c := &fakeChain{verifyResult: true}
	svc := New(c, &fakeWalletPool{wallet: testWallet()}, common.HexToAddress("0x4444444444444444444444444444444444444444"), big.NewInt(1))

	ok, err := svc.Verify(context.Background(), testRequest(), fixedSig())
	require.NoError(t, err)
	require.True(t, ok)

	c.verifyResult = false
	ok, err = svc.Verify(context.Background(), testRequest(), fixedSig())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_RejectsMalformedSignature(t *testing.T) {
	c := &fakeChain{}
	svc := New(c, &fakeWalletPool{wallet: testWallet()}, common.HexToAddress("0x4444444444444444444444444444444444444444"), big.NewInt(1))

	_, err := svc.Verify(context.Background(), testRequest(), "0xdead")
	require.Error(t, err)
}

func TestExecute_DecodesExecutedEvent(t *testing.T) {
	forwarderAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	eventData, err := encodeExecutedEvent(t, true, []byte{0x01, 0x02})
	require.NoError(t, err)

	c := &fakeChain{
		sendResp: &chain.TxResponse{Hash: common.HexToHash("0xaaaa"), Nonce: 1, GasLimit: 100000},
		receipt: &gethtypes.Receipt{
			GasUsed: 90000,
			Logs: []*gethtypes.Log{
				{Address: forwarderAddr, Data: eventData},
			},
		},
	}
	pool := &fakeWalletPool{wallet: testWallet()}
	svc := New(c, pool, forwarderAddr, big.NewInt(1))

	result, err := svc.Execute(context.Background(), testRequest(), fixedSig())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []byte{0x01, 0x02}, result.ReturnData)
	require.Equal(t, common.HexToHash("0xaaaa").Hex(), result.TxHash)
}

func TestExecute_PassesRequestValueAsMsgValue(t *testing.T) {
	forwarderAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	eventData, err := encodeExecutedEvent(t, true, nil)
	require.NoError(t, err)

	c := &fakeChain{
		sendResp: &chain.TxResponse{Hash: common.HexToHash("0xaaaa")},
		receipt:  &gethtypes.Receipt{GasUsed: 90000, Logs: []*gethtypes.Log{{Address: forwarderAddr, Data: eventData}}},
	}
	pool := &fakeWalletPool{wallet: testWallet()}
	svc := New(c, pool, forwarderAddr, big.NewInt(1))

	req := testRequest()
	req.Value = big.NewInt(5000)

	_, err = svc.Execute(context.Background(), req, fixedSig())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5000), c.lastSendOpts.Value)
}

func TestExecute_ResyncsOnNonceTooLow(t *testing.T) {
	forwarderAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	c := &fakeChain{
		sendErr: chainErrorForTest(chain.KindNonceTooLow),
	}
	pool := &fakeWalletPool{wallet: testWallet()}
	svc := New(c, pool, forwarderAddr, big.NewInt(1))

	_, err := svc.Execute(context.Background(), testRequest(), fixedSig())
	require.Error(t, err)
	require.Equal(t, 1, pool.resyncCalls)
}

package execution

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/v3swap/internal/chain/chaintest"
	"github.com/ggonzalez94/v3swap/internal/chain/mock"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testChainID = big.NewInt(31337)
	testTarget  = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

func newTestSender(t *testing.T, opts Options) (*Sender, *mock.MockBackend) {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testKey})
	require.NoError(t, err)
	backend := mock.NewMockBackend(gomock.NewController(t))
	opts.PollInterval = time.Millisecond
	return NewSender(backend, s, testChainID, opts, nil), backend
}

func TestSendBuildsDynamicFeeTransaction(t *testing.T) {
	sender, backend := newTestSender(t, DefaultOptions())
	req := TxRequest{Label: "approve", Kind: clierr.CodeApprovalFailed, To: testTarget, Data: []byte{0x09, 0x5e, 0xa7, 0xb3}}

	var sent *types.Transaction
	gomock.InOrder(
		backend.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Nil()).Return([]byte{}, nil),
		backend.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(46_000), nil),
		backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(nil, errors.New("method not found")),
		backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil),
		backend.EXPECT().PendingNonceAt(gomock.Any(), sender.From()).Return(uint64(7), nil),
		backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *types.Transaction) error {
			sent = tx
			return nil
		}),
		backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(nil, ethereum.NotFound),
		backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(&types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			GasUsed:     44_000,
			BlockNumber: big.NewInt(12),
		}, nil),
	)

	receipt, err := sender.Send(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, uint8(types.DynamicFeeTxType), sent.Type())
	assert.Equal(t, uint64(96_000), sent.Gas())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, big.NewInt(2_000_000_000), sent.GasTipCap())
	assert.Equal(t, big.NewInt(4_000_000_000), sent.GasFeeCap())
	assert.Equal(t, testTarget, *sent.To())

	assert.Equal(t, sent.Hash().Hex(), receipt.TxHash)
	assert.Equal(t, uint64(96_000), receipt.GasLimit)
	assert.Equal(t, uint64(44_000), receipt.GasUsed)
	assert.Equal(t, uint64(12), receipt.BlockNumber)
}

func TestSendSimulationRevertStopsBeforeBroadcast(t *testing.T) {
	sender, backend := newTestSender(t, DefaultOptions())
	backend.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Nil()).Return(nil, chaintest.Revert("STF"))

	_, err := sender.Send(context.Background(), TxRequest{Label: "swap", Kind: clierr.CodeSwapFailed, To: testTarget})
	require.Error(t, err)
	require.True(t, clierr.Is(err, clierr.CodeSwapFailed))
	require.Equal(t, clierr.ExitCode(err), int(clierr.CodeSwapFailed))
	revert := clierr.RevertOf(err)
	require.NotNil(t, revert)
	require.Equal(t, "STF", revert.Reason)
	require.True(t, clierr.IsReverted(err))
}

func TestSendSimulationTransportErrorIsNotARevert(t *testing.T) {
	sender, backend := newTestSender(t, DefaultOptions())
	backend.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Nil()).Return(nil, errors.New("connection refused"))

	_, err := sender.Send(context.Background(), TxRequest{Label: "swap", Kind: clierr.CodeSwapFailed, To: testTarget})
	require.Error(t, err)
	require.True(t, clierr.Is(err, clierr.CodeSwapFailed))
	require.False(t, clierr.IsReverted(err))
}

func TestSendBroadcastFailureIsNotARevert(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = false
	opts.GasStrategy = GasStrategyFixed
	sender, backend := newTestSender(t, opts)

	backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(errors.New("nonce too low"))

	_, err := sender.Send(context.Background(), TxRequest{Label: "swap", Kind: clierr.CodeSwapFailed, To: testTarget})
	require.Error(t, err)
	require.True(t, clierr.Is(err, clierr.CodeUnavailable))
	require.False(t, clierr.IsReverted(err))
}

func TestSendFallsBackToFixedGasLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = false
	sender, backend := newTestSender(t, opts)

	var sent *types.Transaction
	backend.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(0), errors.New("gas required exceeds allowance"))
	backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *types.Transaction) error {
		sent = tx
		return nil
	})
	backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil)

	_, err := sender.Send(context.Background(), TxRequest{Label: "wrap", Kind: clierr.CodeWrapFailed, To: testTarget, Value: big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), sent.Gas())
	require.Equal(t, big.NewInt(21), sent.GasFeeCap())
}

func TestSendFixedStrategySkipsEstimate(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = false
	opts.GasStrategy = GasStrategyFixed
	opts.GasLimit = 300_000
	sender, backend := newTestSender(t, opts)

	backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil)

	receipt, err := sender.Send(context.Background(), TxRequest{Label: "approve", Kind: clierr.CodeApprovalFailed, To: testTarget})
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), receipt.GasLimit)
}

func TestSendOnChainRevertReplaysReason(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = false
	opts.GasStrategy = GasStrategyFixed
	sender, backend := newTestSender(t, opts)

	backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(3), nil)
	backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(&types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(99)}, nil)
	backend.EXPECT().CallContract(gomock.Any(), gomock.Any(), big.NewInt(99)).Return(nil, chaintest.Revert("Too little received"))

	receipt, err := sender.Send(context.Background(), TxRequest{Label: "swap", Kind: clierr.CodeSwapFailed, To: testTarget})
	require.Error(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, uint64(0), receipt.Status)
	require.True(t, clierr.Is(err, clierr.CodeSwapFailed))
	require.Equal(t, "Too little received", clierr.RevertOf(err).Reason)
	require.True(t, clierr.IsReverted(err))
}

func TestSendReceiptTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = false
	opts.GasStrategy = GasStrategyFixed
	opts.ReceiptTimeout = 20 * time.Millisecond
	sender, backend := newTestSender(t, opts)

	backend.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	backend.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	backend.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(nil, ethereum.NotFound).AnyTimes()

	_, err := sender.Send(context.Background(), TxRequest{Label: "wrap", Kind: clierr.CodeWrapFailed, To: testTarget})
	require.Error(t, err)
	require.Equal(t, int(clierr.CodeWrapFailed), clierr.ExitCode(err))
	require.True(t, clierr.Is(err, clierr.CodeTimeout))
	require.False(t, clierr.IsReverted(err))
}

func TestResolveFeeCapOverrides(t *testing.T) {
	feeCap, err := resolveFeeCap(big.NewInt(10), big.NewInt(2), "")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(22), feeCap)

	feeCap, err = resolveFeeCap(big.NewInt(10), big.NewInt(2_000_000_000), "30")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30_000_000_000), feeCap)

	_, err = resolveFeeCap(big.NewInt(10), big.NewInt(2_000_000_000), "1")
	require.Error(t, err)
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_500_000_000), v)

	for _, bad := range []string{"", "-1", "abc", "0.0000000001"} {
		_, err := parseGwei(bad)
		require.Error(t, err, bad)
	}
}

func TestLockWalletIsExclusive(t *testing.T) {
	dir := t.TempDir()
	wallet := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	first, err := LockWallet(context.Background(), dir, wallet, time.Second)
	require.NoError(t, err)

	_, err = LockWallet(context.Background(), dir, wallet, 50*time.Millisecond)
	require.Error(t, err)
	require.True(t, clierr.Is(err, clierr.CodeUnavailable))

	require.NoError(t, first.Unlock())
	second, err := LockWallet(context.Background(), dir, wallet, time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

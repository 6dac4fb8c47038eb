package chainclient

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tychomaker/divergence-bot/internal/domain"
)

// A well-known throwaway key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewWallet(t *testing.T) {
	w, err := NewWallet(testKey, 8453)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), w.Address())

	// 0x prefix is accepted too.
	w2, err := NewWallet("0x"+testKey, 8453)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), w2.Address())

	_, err = NewWallet("not-a-key", 8453)
	assert.Error(t, err)
}

func TestWalletSign(t *testing.T) {
	w, err := NewWallet(testKey, 8453)
	require.NoError(t, err)

	req := domain.TxRequest{
		To:                   common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"),
		From:                 w.Address(),
		Input:                []byte{0x09, 0x5e, 0xa7, 0xb3},
		GasLimit:             75_000,
		ChainID:              8453,
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		Nonce:                7,
	}

	tx, err := w.Sign(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(75_000), tx.Gas())
	assert.Equal(t, req.To, *tx.To())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender)
}

func TestWalletSignRejectsForeignFrom(t *testing.T) {
	w, err := NewWallet(testKey, 1)
	require.NoError(t, err)

	req := domain.TxRequest{
		To:      common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"),
		From:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		ChainID: 1,
	}
	_, err = w.Sign(req)
	assert.ErrorContains(t, err, "does not match wallet")
}

func TestWalletSignRaw(t *testing.T) {
	w, err := NewWallet(testKey, 1)
	require.NoError(t, err)

	req := domain.TxRequest{
		To:                   common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"),
		From:                 w.Address(),
		ChainID:              1,
		GasLimit:             21_000,
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		Nonce:                0,
	}

	raw, hash, err := w.SignRaw(req)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, hash, decoded.Hash())
}

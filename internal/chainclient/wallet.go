package chainclient

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tychomaker/divergence-bot/internal/domain"
)

// Wallet holds the signing key. The key is read once at startup and never
// logged.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewWallet parses a hex private key and binds it to a chain id.
func NewWallet(privateKeyHex string, chainID uint64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet private key: %w", err)
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
	}, nil
}

// Address returns the wallet's public address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Sign turns a transaction request into a signed dynamic-fee transaction.
func (w *Wallet) Sign(req domain.TxRequest) (*types.Transaction, error) {
	if req.From != (common.Address{}) && req.From != w.address {
		return nil, fmt.Errorf("request from %s does not match wallet %s", req.From, w.address)
	}
	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(req.ChainID),
		Nonce:     req.Nonce,
		GasTipCap: req.MaxPriorityFeePerGas,
		GasFeeCap: req.MaxFeePerGas,
		Gas:       req.GasLimit,
		To:        &to,
		Value:     req.Value,
		Data:      req.Input,
	})
	return types.SignTx(tx, w.signer, w.key)
}

// SignFlashbotsPayload produces the X-Flashbots-Signature header value for a
// bundle request body: the wallet address and an EIP-191 signature over the
// keccak hash of the body.
func (w *Wallet) SignFlashbotsPayload(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body)
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed.Hex())), w.key)
	if err != nil {
		return "", err
	}
	return w.address.Hex() + ":" + hexutil.Encode(sig), nil
}

// SignRaw signs a request and returns the RLP-encoded raw transaction, the
// form builder endpoints accept in bundles.
func (w *Wallet) SignRaw(req domain.TxRequest) ([]byte, common.Hash, error) {
	tx, err := w.Sign(req)
	if err != nil {
		return nil, common.Hash{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, err
	}
	return raw, tx.Hash(), nil
}

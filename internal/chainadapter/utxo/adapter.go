// Package bitcoin implements the chain adapter contract for UTXO-based
// chains (Bitcoin and its testnets).
package bitcoin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/provider"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/shopspring/decimal"
)

var satoshisPerBTC = decimal.New(1, 8)

// BitcoinAdapter implements chainadapter.ChainAdapter for Bitcoin-family chains.
type BitcoinAdapter struct {
	rpcClient    rpc.RPCClient
	txStore      txstore.TransactionStateStore
	priceSource  provider.BlockchainProvider
	chainID      string
	network      string
	keys         chainadapter.KeySource
	builder      *TransactionBuilder
	rpcHelper    *RPCHelper
	feeEstimator *FeeEstimator
	minConf      int
}

// NewBitcoinAdapter creates a new Bitcoin ChainAdapter.
func NewBitcoinAdapter(rpcClient rpc.RPCClient, txStore txstore.TransactionStateStore, keys chainadapter.KeySource, priceSource provider.BlockchainProvider, network string, minConfirmations int) (*BitcoinAdapter, error) {
	chainID := "bitcoin"
	if network == "testnet3" {
		chainID = "bitcoin-testnet"
	} else if network == "regtest" {
		chainID = "bitcoin-regtest"
	}

	builder, err := NewTransactionBuilder(network)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction builder: %w", err)
	}

	rpcHelper := NewRPCHelper(rpcClient)

	return &BitcoinAdapter{
		rpcClient: rpcClient, txStore: txStore, priceSource: priceSource,
		chainID: chainID, network: network, keys: keys,
		builder: builder, rpcHelper: rpcHelper,
		feeEstimator: NewFeeEstimator(rpcHelper, network),
		minConf:      minConfirmations,
	}, nil
}

func (b *BitcoinAdapter) ChainID() string { return b.chainID }

func (b *BitcoinAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{
		ChainID: b.chainID, Category: "UTXO", SupportsTokens: false,
		SupportsBrokerTx: false, MinConfirmations: b.minConf,
		NativeSymbol: "BTC",
	}
}

func (b *BitcoinAdapter) ValidateAddress(address string) bool {
	params, err := networkParams(b.network)
	if err != nil {
		return false
	}
	_, err = btcutil.DecodeAddress(address, params)
	return err == nil
}

func escrowDerivationPath(dealID, side string) string {
	index := stableIndex(dealID, side)
	return fmt.Sprintf("m/44'/0'/0'/0/%d", index)
}

func stableIndex(dealID, side string) uint32 {
	h := fnv32(dealID + ":" + side)
	return h & 0x7fffffff
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func (b *BitcoinAdapter) GenerateEscrow(ctx context.Context, assetCode, dealID, side string) (*chainadapter.Escrow, error) {
	path := escrowDerivationPath(dealID, side)
	pubKey, err := b.keys.GetPublicKey(path)
	if err != nil {
		return nil, err
	}
	address, err := pubKeyToP2WPKHAddress(pubKey, b.network)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "failed to derive escrow address", err)
	}
	return &chainadapter.Escrow{Address: address, KeyRef: path}, nil
}

func (b *BitcoinAdapter) ListDeposits(ctx context.Context, escrow *chainadapter.Escrow, since *time.Time) ([]chainadapter.RawDeposit, error) {
	utxos, err := b.rpcHelper.ListUnspent(ctx, escrow.Address)
	if err != nil {
		return nil, err
	}

	deposits := make([]chainadapter.RawDeposit, 0, len(utxos))
	for _, u := range utxos {
		deposits = append(deposits, chainadapter.RawDeposit{
			AssetCode:     "BTC",
			Amount:        decimal.NewFromInt(u.Amount).Div(satoshisPerBTC),
			Txid:          u.TxID,
			Confirmations: u.Confirmations,
			IsSynthetic:   false,
			ObservedAt:    time.Now(),
		})
	}
	return deposits, nil
}

func (b *BitcoinAdapter) GetTxConfirmations(ctx context.Context, txid string) (int, error) {
	result, err := b.rpcHelper.GetRawTransaction(ctx, txid)
	if err != nil {
		return 0, err
	}
	if result == nil {
		return -1, nil
	}
	return result.Confirmations, nil
}

func (b *BitcoinAdapter) SubmitTransfer(ctx context.Context, req *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	if existing, err := b.txStore.Get(req.IntentID); err == nil && existing != nil && existing.Txid != "" {
		return &chainadapter.TransferResult{Txid: existing.Txid, SubmittedAt: existing.LastRetry}, nil
	}

	utxos, err := b.rpcHelper.ListUnspent(ctx, req.From.Address)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInsufficientFunds, fmt.Sprintf("no UTXOs available for address: %s", req.From.Address), nil)
	}

	amountSats := req.Amount.Mul(satoshisPerBTC).IntPart()
	feeRate := b.feeEstimator.FeeRateSatPerByte(ctx)

	tx, selected, _, err := b.builder.BuildTransfer(req.From.Address, req.To, amountSats, utxos, feeRate)
	if err != nil {
		return nil, err
	}

	signer, err := b.signerFor(req.From.KeyRef)
	if err != nil {
		return nil, err
	}

	if err := signTransactionInputs(tx, selected, signer); err != nil {
		return nil, err
	}

	rawTx, err := serializeUnsigned(tx)
	if err != nil {
		return nil, err
	}
	txHash := ComputeTransactionHash(rawTx)

	broadcastHash, err := b.rpcHelper.SendRawTransaction(ctx, fmt.Sprintf("%x", rawTx))
	if err != nil {
		if contains(err.Error(), "already") {
			broadcastHash = txHash
		} else {
			return nil, err
		}
	}

	now := time.Now()
	_ = b.txStore.Set(req.IntentID, &txstore.TxState{
		Key: req.IntentID, ChainID: b.chainID, Txid: broadcastHash, RawTx: rawTx,
		RetryCount: 1, FirstSeen: now, LastRetry: now, Status: txstore.TxStatusPending,
	})

	return &chainadapter.TransferResult{Txid: broadcastHash, SubmittedAt: now}, nil
}

func (b *BitcoinAdapter) signerFor(keyRef string) (*BTCDSigner, error) {
	mnemonicSource, ok := b.keys.(*chainadapter.MnemonicKeySource)
	if !ok {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "key source does not support raw signing", nil)
	}
	privKey, err := mnemonicSource.GetBitcoinPrivateKey(keyRef)
	if err != nil {
		return nil, err
	}
	return NewBTCDSignerFromPrivateKey(privKey.Serialize(), b.network)
}

func (b *BitcoinAdapter) QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*chainadapter.NativeQuote, error) {
	if b.priceSource == nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "no price source configured", nil, nil)
	}
	rate, err := b.priceSource.GetNativeUSDPrice(ctx, b.chainID)
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price query failed", nil, err)
	}
	if rate.IsZero() {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price source returned zero rate", nil, nil)
	}
	return &chainadapter.NativeQuote{
		NativeAmount: usdAmount.Div(rate), QuotedAt: time.Now(),
		Source: b.priceSource.ProviderName(), RateUSD: rate,
	}, nil
}

func (b *BitcoinAdapter) ApproveBrokerForToken(ctx context.Context, escrow *chainadapter.Escrow, tokenAddr string) error {
	return chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "UTXO chains have no token approval model", nil)
}

func (b *BitcoinAdapter) GetInternalTransactions(ctx context.Context, txid string) ([]chainadapter.InternalTransfer, error) {
	return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "UTXO chains have no internal call traces", nil)
}

// signTransactionInputs attaches P2WPKH witness data for every selected
// input, all of which spend from the same escrow address.
func signTransactionInputs(tx *wire.MsgTx, utxos []UTXO, signer *BTCDSigner) error {
	params, err := networkParams(signer.network)
	if err != nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "unsupported network", err)
	}
	addr, err := btcutil.DecodeAddress(signer.address, params)
	if err != nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "failed to decode escrow address", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "failed to build prevout script", err)
	}

	hashCache := txscript.NewTxSigHashes(tx)
	for i, utxo := range utxos {
		sig, err := txscript.RawTxInWitnessSignature(tx, hashCache, i, utxo.Amount, pkScript, txscript.SigHashAll, signer.privateKey)
		if err != nil {
			return chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
		}
		tx.TxIn[i].Witness = wire.TxWitness{sig, signer.GetPublicKey()}
	}
	return nil
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && findSubstring(s, substr)
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

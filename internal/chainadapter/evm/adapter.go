// Package ethereum implements the chain adapter contract for EVM chains
// (Ethereum, Polygon, and other chains sharing the same JSON-RPC surface).
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/metrics"
	"github.com/otcswap/broker/internal/chainadapter/provider"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/shopspring/decimal"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// erc20ScanWindowBlocks bounds how far back ListDeposits scans Transfer logs,
// so a freshly generated escrow on a years-old chain doesn't trigger an
// unbounded eth_getLogs call. The window is always counted back from the
// current block; ListDeposits does not use its since argument.
const erc20ScanWindowBlocks = 50000

// weiPerEther is used to convert wei amounts to decimal ETH for the deal
// engine, which works in human-scale decimal amounts throughout.
var weiPerEther = decimal.New(1, 18)

// EVMAdapter implements chainadapter.ChainAdapter for account-based EVM
// chains. One instance serves one chainId (e.g. "ethereum", "polygon").
type EVMAdapter struct {
	rpcClient    rpc.RPCClient
	txStore      txstore.TransactionStateStore
	priceSource  provider.BlockchainProvider
	chainID      string
	networkID    int64
	keys         chainadapter.KeySource
	builder      *TransactionBuilder
	rpcHelper    *RPCHelper
	feeEstimator *FeeEstimator
	metrics      metrics.ChainMetrics
	minConf      int

	tokenMu       sync.RWMutex
	tokenByEscrow map[string]string // lowercase escrow address -> ERC20 contract address

	decimalsMu      sync.RWMutex
	decimalsByToken map[string]int32 // lowercase token address -> decimals
}

// NewEVMAdapter creates an adapter for the given EVM chain.
func NewEVMAdapter(chainID string, networkID int64, rpcClient rpc.RPCClient, txStore txstore.TransactionStateStore, keys chainadapter.KeySource, priceSource provider.BlockchainProvider, minConfirmations int, metricsRecorder metrics.ChainMetrics) *EVMAdapter {
	if metricsRecorder != nil {
		rpcClient = rpc.NewMetricsRPCClient(rpcClient, metricsRecorder)
	}

	rpcHelper := NewRPCHelper(rpcClient)

	return &EVMAdapter{
		rpcClient:       rpcClient,
		txStore:         txStore,
		priceSource:     priceSource,
		chainID:         chainID,
		networkID:       networkID,
		keys:            keys,
		builder:         NewTransactionBuilder(networkID),
		rpcHelper:       rpcHelper,
		feeEstimator:    NewFeeEstimator(rpcHelper, uint64(networkID)),
		metrics:         metricsRecorder,
		minConf:         minConfirmations,
		tokenByEscrow:   make(map[string]string),
		decimalsByToken: make(map[string]int32),
	}
}

// erc20Decimals returns the cached decimals for tokenAddr, querying and
// caching it on first use. Falls back to 18 (the common case) if the call
// fails, since a missing decimals() call shouldn't block deposit polling.
func (e *EVMAdapter) erc20Decimals(ctx context.Context, tokenAddr string) int32 {
	key := strings.ToLower(tokenAddr)
	e.decimalsMu.RLock()
	d, ok := e.decimalsByToken[key]
	e.decimalsMu.RUnlock()
	if ok {
		return d
	}

	d, err := e.rpcHelper.GetERC20Decimals(ctx, tokenAddr)
	if err != nil {
		d = 18
	}
	e.decimalsMu.Lock()
	e.decimalsByToken[key] = d
	e.decimalsMu.Unlock()
	return d
}

func (e *EVMAdapter) ChainID() string { return e.chainID }

func (e *EVMAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{
		ChainID:          e.chainID,
		Category:         "EVM",
		SupportsTokens:   true,
		SupportsBrokerTx: true,
		MinConfirmations: e.minConf,
		NativeSymbol:     nativeSymbolFor(e.chainID),
	}
}

// ValidateAddress checks for a 0x-prefixed, 40-hex-digit address. The EIP-55
// mixed-case checksum is not verified.
func (e *EVMAdapter) ValidateAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 42 && common.IsHexAddress(address)
}

// escrowDerivationPath returns the deterministic BIP44 path for a deal's
// escrow on this chain: m/44'/60'/0'/0/index, where index is derived from
// (dealId, side) so it never repeats across deals.
func escrowDerivationPath(dealID, side string) string {
	index := stableIndex(dealID, side)
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// stableIndex hashes (dealId, side) into a small non-hardened child index.
// Deterministic per input, never reused across (dealId, side) pairs in
// practice given the low collision odds of a 31-bit hash space per deal.
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

// GenerateEscrow derives a fresh deposit address for this deal side.
func (e *EVMAdapter) GenerateEscrow(ctx context.Context, assetCode, dealID, side string) (*chainadapter.Escrow, error) {
	path := escrowDerivationPath(dealID, side)

	pubKey, err := e.keys.GetPublicKey(path)
	if err != nil {
		return nil, err
	}

	address, err := pubKeyToChecksummedAddress(pubKey)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "failed to derive escrow address", err)
	}

	if !isNativeAsset(assetCode) {
		e.tokenMu.Lock()
		e.tokenByEscrow[strings.ToLower(address)] = tokenAddressFromAssetCode(assetCode)
		e.tokenMu.Unlock()
	}

	return &chainadapter.Escrow{Address: address, KeyRef: path}, nil
}

// ListDeposits returns observed native and ERC20 credits to the escrow.
// For native ETH it reconciles via a balance snapshot; for ERC20 it scans
// Transfer logs to the token recorded for this escrow at GenerateEscrow
// time. When a token balance is observed with no discoverable transfer
// (indexer lag) a synthetic entry is emitted instead.
func (e *EVMAdapter) ListDeposits(ctx context.Context, escrow *chainadapter.Escrow, since *time.Time) ([]chainadapter.RawDeposit, error) {
	e.tokenMu.RLock()
	tokenAddr, isToken := e.tokenByEscrow[strings.ToLower(escrow.Address)]
	e.tokenMu.RUnlock()

	if isToken {
		return e.listERC20Deposits(ctx, escrow, tokenAddr)
	}
	return e.listNativeDeposits(ctx, escrow)
}

func (e *EVMAdapter) listNativeDeposits(ctx context.Context, escrow *chainadapter.Escrow) ([]chainadapter.RawDeposit, error) {
	var deposits []chainadapter.RawDeposit

	balance, err := e.rpcHelper.GetBalance(ctx, escrow.Address)
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		currentBlock, _ := e.rpcHelper.GetBlockNumber(ctx)
		deposits = append(deposits, chainadapter.RawDeposit{
			AssetCode:     nativeSymbolFor(e.chainID),
			Amount:        weiToDecimal(balance),
			Txid:          syntheticTxid(escrow.Address, nativeSymbolFor(e.chainID)),
			BlockHeight:   currentBlock,
			Confirmations: e.minConf,
			IsSynthetic:   true,
			ObservedAt:    time.Now(),
		})
	}

	return deposits, nil
}

// listERC20Deposits scans Transfer logs emitted by tokenAddr for credits to
// escrow.Address, and adds a synthetic balance-based entry for any part of
// the escrow's token balance those logs don't account for (e.g. the indexer
// hasn't caught up with a transfer that nonetheless moved the balance).
func (e *EVMAdapter) listERC20Deposits(ctx context.Context, escrow *chainadapter.Escrow, tokenAddr string) ([]chainadapter.RawDeposit, error) {
	assetCode := "ERC20:" + tokenAddr
	currentBlock, err := e.rpcHelper.GetBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	fromBlock := uint64(0)
	if currentBlock > erc20ScanWindowBlocks {
		fromBlock = currentBlock - erc20ScanWindowBlocks
	}

	logs, err := e.rpcHelper.GetLogs(ctx, tokenAddr, []string{erc20TransferTopic}, fromBlock)
	if err != nil {
		return nil, err
	}

	decimals := e.erc20Decimals(ctx, tokenAddr)

	paddedEscrow := padAddressTopic(escrow.Address)
	var deposits []chainadapter.RawDeposit
	var transferTotal = decimal.Zero
	for _, l := range logs {
		if len(l.Topics) < 3 || !strings.EqualFold(l.Topics[2], paddedEscrow) {
			continue
		}
		blockHeight, err := hexToUint64(l.BlockNumber)
		if err != nil {
			continue
		}
		rawAmount, err := hexutil.DecodeBig(l.Data)
		if err != nil {
			continue
		}
		amount := erc20UnitsToDecimal(rawAmount, decimals)
		transferTotal = transferTotal.Add(amount)
		deposits = append(deposits, chainadapter.RawDeposit{
			AssetCode:     assetCode,
			Amount:        amount,
			Txid:          l.TxHash,
			BlockHeight:   blockHeight,
			Confirmations: int(currentBlock-blockHeight) + 1,
			ObservedAt:    time.Now(),
		})
	}

	balance, err := e.rpcHelper.GetERC20Balance(ctx, tokenAddr, escrow.Address)
	if err == nil && balance.Sign() > 0 {
		residual := erc20UnitsToDecimal(balance, decimals).Sub(transferTotal)
		if residual.IsPositive() {
			deposits = append(deposits, chainadapter.RawDeposit{
				AssetCode:     assetCode,
				Amount:        residual,
				Txid:          syntheticTxid(escrow.Address, assetCode),
				BlockHeight:   currentBlock,
				Confirmations: e.minConf,
				IsSynthetic:   true,
				ObservedAt:    time.Now(),
			})
		}
	}

	return deposits, nil
}

// padAddressTopic left-pads an address into the 32-byte topic form
// eth_getLogs uses for indexed address parameters.
func padAddressTopic(address string) string {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	return "0x" + strings.Repeat("0", 24) + addr
}

func nativeSymbolFor(chainID string) string {
	switch chainID {
	case "polygon":
		return "MATIC"
	default:
		return "ETH"
	}
}

func syntheticTxid(address, assetCode string) string {
	return fmt.Sprintf("synthetic:%s:%s", strings.ToLower(address), assetCode)
}

func weiToDecimal(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEther)
}

func decimalToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(weiPerEther).BigInt()
}

// erc20UnitsToDecimal converts a raw token-unit amount to a human-scale
// decimal given the token's decimals, mirroring weiToDecimal for ERC20s
// that don't use 18 decimals.
func erc20UnitsToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Div(decimal.New(1, decimals))
}

// GetTxConfirmations returns -1 if the transaction is no longer found
// (reorg), 0 for mempool, and the confirmation count once mined.
func (e *EVMAdapter) GetTxConfirmations(ctx context.Context, txid string) (int, error) {
	tx, err := e.rpcHelper.GetTransactionByHash(ctx, txid)
	if err != nil {
		return 0, err
	}
	if tx == nil {
		return -1, nil
	}

	receipt, err := e.rpcHelper.GetTransactionReceipt(ctx, txid)
	if err != nil {
		return 0, err
	}
	if receipt == nil {
		return 0, nil
	}

	currentBlock, err := e.rpcHelper.GetBlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	receiptBlock, err := hexToUint64(receipt.BlockNumber)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode receipt block number", err)
	}

	return int(currentBlock-receiptBlock) + 1, nil
}

func hexToUint64(hex string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(hex, "0x%x", &n)
	return n, err
}

// SubmitTransfer sends escrow funds to a destination address, idempotent
// over req.IntentID.
func (e *EVMAdapter) SubmitTransfer(ctx context.Context, req *chainadapter.TransferRequest) (result *chainadapter.TransferResult, err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordTransactionBroadcast(e.chainID, time.Since(start), err == nil)
		}
	}()

	if existing, getErr := e.txStore.Get(req.IntentID); getErr == nil && existing != nil && existing.Txid != "" {
		return &chainadapter.TransferResult{Txid: existing.Txid, AdditionalTxids: existing.AdditionalTxids, SubmittedAt: existing.LastRetry}, nil
	}

	nonce, err := e.rpcHelper.GetTransactionCount(ctx, req.From.Address)
	if err != nil {
		return nil, err
	}

	maxFee, priorityFee, err := e.feeEstimator.Gas1559(ctx)
	if err != nil {
		return nil, err
	}

	signer, err := e.signerFor(req.From.KeyRef)
	if err != nil {
		return nil, err
	}

	var rawTx []byte
	var txHash string
	if isNativeAsset(req.AssetCode) {
		amountWei := decimalToWei(req.Amount)
		tx, buildErr := e.builder.BuildNativeTransfer(ctx, req.From.Address, req.To, amountWei, nonce, 21000, maxFee, priorityFee)
		if buildErr != nil {
			return nil, buildErr
		}
		signedTx, signErr := signer.SignTransaction(tx)
		if signErr != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", signErr.Error(), signErr)
		}
		rawTx, txHash, err = marshalSignedTx(signedTx)
	} else {
		tokenAddr := tokenAddressFromAssetCode(req.AssetCode)
		amountUnits := req.Amount.Mul(decimal.New(1, e.erc20Decimals(ctx, tokenAddr))).BigInt() // scaled by the token's own decimals
		tx, buildErr := e.builder.BuildERC20Transfer(ctx, tokenAddr, req.To, amountUnits, nonce, 80000, maxFee, priorityFee)
		if buildErr != nil {
			return nil, buildErr
		}
		signedTx, signErr := signer.SignTransaction(tx)
		if signErr != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", signErr.Error(), signErr)
		}
		rawTx, txHash, err = marshalSignedTx(signedTx)
	}
	if err != nil {
		return nil, err
	}

	broadcastHash, err := e.rpcHelper.SendRawTransaction(ctx, "0x"+fmt.Sprintf("%x", rawTx))
	if err != nil {
		if strings.Contains(err.Error(), "already known") || strings.Contains(err.Error(), "nonce too low") {
			broadcastHash = txHash
		} else {
			return nil, err
		}
	}

	now := time.Now()
	_ = e.txStore.Set(req.IntentID, &txstore.TxState{
		Key:        req.IntentID,
		ChainID:    e.chainID,
		Txid:       broadcastHash,
		RawTx:      rawTx,
		RetryCount: 1,
		FirstSeen:  now,
		LastRetry:  now,
		Status:     txstore.TxStatusPending,
	})

	return &chainadapter.TransferResult{Txid: broadcastHash, SubmittedAt: now}, nil
}

func isNativeAsset(assetCode string) bool {
	return !strings.HasPrefix(assetCode, "ERC20:")
}

func tokenAddressFromAssetCode(assetCode string) string {
	return strings.TrimPrefix(assetCode, "ERC20:")
}

func marshalSignedTx(tx interface {
	MarshalBinary() ([]byte, error)
	Hash() common.Hash
}) ([]byte, string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", chainadapter.NewNonRetryableError("ERR_SERIALIZE_FAILED", err.Error(), err)
	}
	return raw, tx.Hash().Hex(), nil
}

// signerFor recovers an EthereumSigner from the escrow's key reference
// (a derivation path) using the adapter's configured key source.
func (e *EVMAdapter) signerFor(keyRef string) (*EthereumSigner, error) {
	mnemonicSource, ok := e.keys.(*chainadapter.MnemonicKeySource)
	if !ok {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "key source does not support raw signing", nil)
	}
	privKey, err := mnemonicSource.GetEthereumPrivateKey(keyRef)
	if err != nil {
		return nil, err
	}
	return newEthereumSignerFromECDSA(privKey, e.networkID), nil
}

// QuoteNativeForUSD converts a USD amount to this chain's native asset using
// the configured price source, recording the rate used.
func (e *EVMAdapter) QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*chainadapter.NativeQuote, error) {
	if e.priceSource == nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "no price source configured", nil, nil)
	}

	rate, err := e.priceSource.GetNativeUSDPrice(ctx, e.chainID)
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price query failed", nil, err)
	}
	if rate.IsZero() {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price source returned zero rate", nil, nil)
	}

	return &chainadapter.NativeQuote{
		NativeAmount: usdAmount.Div(rate),
		QuotedAt:     time.Now(),
		Source:       e.priceSource.ProviderName(),
		RateUSD:      rate,
	}, nil
}

// ApproveBrokerForToken issues an unlimited allowance from the escrow to the
// broker contract, consumed by later internal-transfer payouts.
func (e *EVMAdapter) ApproveBrokerForToken(ctx context.Context, escrow *chainadapter.Escrow, tokenAddr string) error {
	signer, err := e.signerFor(escrow.KeyRef)
	if err != nil {
		return err
	}

	nonce, err := e.rpcHelper.GetTransactionCount(ctx, escrow.Address)
	if err != nil {
		return err
	}
	maxFee, priorityFee, err := e.feeEstimator.Gas1559(ctx)
	if err != nil {
		return err
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	transferTx, err := e.builder.BuildERC20Transfer(ctx, tokenAddr, brokerContractAddress(e.chainID), maxUint256, nonce, 60000, maxFee, priorityFee)
	if err != nil {
		return err
	}
	// approve(address,uint256) has the same argument layout as transfer; only
	// the selector differs: 0x095ea7b3 = keccak256("approve(address,uint256)")[:4].
	data := append([]byte{0x09, 0x5e, 0xa7, 0xb3}, transferTx.Data()[4:]...)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   transferTx.ChainId(),
		Nonce:     nonce,
		GasFeeCap: maxFee,
		GasTipCap: priorityFee,
		Gas:       transferTx.Gas(),
		To:        transferTx.To(),
		Value:     big.NewInt(0),
		Data:      data,
	})
	signedTx, err := signer.SignTransaction(tx)
	if err != nil {
		return chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}
	raw, _, err := marshalSignedTx(signedTx)
	if err != nil {
		return err
	}
	_, err = e.rpcHelper.SendRawTransaction(ctx, "0x"+fmt.Sprintf("%x", raw))
	return err
}

// brokerContractAddress is the broker contract used for ERC20 allowance-based
// settlement. It returns the zero address for every chain; no per-chain
// broker contract address is configured.
func brokerContractAddress(chainID string) string {
	return "0x0000000000000000000000000000000000000000"
}

// GetInternalTransactions returns internal transfers emitted by a broker
// contract call, read from the trace API when available. Only "call" frames
// that moved non-zero native value are surfaced; CREATE/SELFDESTRUCT frames
// and zero-value calls aren't transfers a payout needs to account for.
func (e *EVMAdapter) GetInternalTransactions(ctx context.Context, txid string) ([]chainadapter.InternalTransfer, error) {
	traces, err := e.rpcHelper.GetCallTraces(ctx, txid)
	if err != nil || len(traces) == 0 {
		return nil, err
	}

	nativeAsset := nativeSymbolFor(e.chainID)
	var transfers []chainadapter.InternalTransfer
	for _, t := range traces {
		if t.Type != "call" || t.Action.Value == "" {
			continue
		}
		value, err := hexutil.DecodeBig(t.Action.Value)
		if err != nil || value.Sign() == 0 {
			continue
		}
		transfers = append(transfers, chainadapter.InternalTransfer{
			From:   t.Action.From,
			To:     t.Action.To,
			Amount: weiToDecimal(value),
			Asset:  nativeAsset,
		})
	}
	return transfers, nil
}

package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/provider"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/shopspring/decimal"
)

var lamportsPerSOLDecimal = decimal.New(1, 9)

// SolanaAdapter implements chainadapter.ChainAdapter for Solana. It moves
// native SOL only; SPL token transfers need a broker-owned associated
// token account per mint and are out of scope until that custody model
// exists.
type SolanaAdapter struct {
	rpcClient   rpc.RPCClient
	txStore     txstore.TransactionStateStore
	priceSource provider.BlockchainProvider
	keys        chainadapter.KeySource
	rpcHelper   *RPCHelper
	minConf     int
}

// NewSolanaAdapter creates a Solana ChainAdapter.
func NewSolanaAdapter(rpcClient rpc.RPCClient, txStore txstore.TransactionStateStore, keys chainadapter.KeySource, priceSource provider.BlockchainProvider, minConfirmations int) *SolanaAdapter {
	return &SolanaAdapter{
		rpcClient:   rpcClient,
		txStore:     txStore,
		priceSource: priceSource,
		keys:        keys,
		rpcHelper:   NewRPCHelper(rpcClient),
		minConf:     minConfirmations,
	}
}

func (s *SolanaAdapter) ChainID() string { return "solana" }

func (s *SolanaAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{
		ChainID:          "solana",
		Category:         "Solana",
		SupportsTokens:   false,
		SupportsBrokerTx: false,
		MinConfirmations: s.minConf,
		NativeSymbol:     "SOL",
	}
}

// ValidateAddress checks that address decodes as base58 to exactly 32
// bytes, the size of an Ed25519 public key. It does not check that the
// account exists on-chain.
func (s *SolanaAdapter) ValidateAddress(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// escrowDerivationPath returns the deterministic path for a deal's escrow
// on Solana: m/44'/501'/0'/{index}', Solana's registered coin type with an
// all-hardened suffix since SLIP-10 Ed25519 derivation has no non-hardened
// path.
func escrowDerivationPath(dealID, side string) string {
	index := stableIndex(dealID, side)
	return fmt.Sprintf("m/44'/501'/0'/%d'", index)
}

func stableIndex(dealID, side string) uint32 {
	h := fnv32(dealID + ":" + side)
	return h & 0x7fffffff
}

func fnv32(str string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(str); i++ {
		h ^= uint32(str[i])
		h *= prime
	}
	return h
}

func (s *SolanaAdapter) GenerateEscrow(ctx context.Context, assetCode, dealID, side string) (*chainadapter.Escrow, error) {
	path := escrowDerivationPath(dealID, side)
	mnemonicSource, ok := s.keys.(*chainadapter.MnemonicKeySource)
	if !ok {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "key source does not support ed25519 derivation", nil)
	}
	pubKey, err := mnemonicSource.GetSolanaPublicKey(path)
	if err != nil {
		return nil, err
	}
	return &chainadapter.Escrow{Address: solana.PublicKeyFromBytes(pubKey).String(), KeyRef: path}, nil
}

// ListDeposits reconciles a balance snapshot against the escrow, the same
// synthetic-entry approach used for native EVM assets: Solana's account
// model makes a point-in-time balance cheap to read and a full deposit
// history expensive to reconstruct.
func (s *SolanaAdapter) ListDeposits(ctx context.Context, escrow *chainadapter.Escrow, since *time.Time) ([]chainadapter.RawDeposit, error) {
	lamports, err := s.rpcHelper.GetBalance(ctx, escrow.Address)
	if err != nil {
		return nil, err
	}
	if lamports == 0 {
		return nil, nil
	}
	return []chainadapter.RawDeposit{{
		AssetCode:     "SOL",
		Amount:        decimal.NewFromInt(int64(lamports)).Div(lamportsPerSOLDecimal),
		Txid:          fmt.Sprintf("synthetic:%s:SOL", escrow.Address),
		Confirmations: s.minConf,
		IsSynthetic:   true,
		ObservedAt:    time.Now(),
	}}, nil
}

// GetTxConfirmations maps a signature's confirmation status to the same
// (-1 reorg, 0 pending, >=1 confirmed) contract every other adapter uses.
func (s *SolanaAdapter) GetTxConfirmations(ctx context.Context, txid string) (int, error) {
	status, err := s.rpcHelper.GetSignatureStatus(ctx, txid)
	if err != nil {
		return 0, err
	}
	if status == nil {
		return -1, nil
	}
	if status.Confirmations == nil {
		// nil confirmations with a "finalized" status means max depth, not pending.
		if status.ConfirmationStatus == "finalized" {
			return s.minConf, nil
		}
		return 0, nil
	}
	return int(*status.Confirmations), nil
}

func (s *SolanaAdapter) SubmitTransfer(ctx context.Context, req *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	if existing, err := s.txStore.Get(req.IntentID); err == nil && existing != nil && existing.Txid != "" {
		return &chainadapter.TransferResult{Txid: existing.Txid, SubmittedAt: existing.LastRetry}, nil
	}

	mnemonicSource, ok := s.keys.(*chainadapter.MnemonicKeySource)
	if !ok {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "key source does not support raw signing", nil)
	}
	signer, err := mnemonicSource.GetSolanaPrivateKey(req.From.KeyRef)
	if err != nil {
		return nil, err
	}

	fromPub, err := solana.PublicKeyFromBase58(req.From.Address)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "invalid escrow address", err)
	}
	toPub, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "invalid destination address", err)
	}

	lamports := req.Amount.Mul(lamportsPerSOLDecimal).BigInt().Uint64()

	blockhash, _, err := s.rpcHelper.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	raw, signature, err := buildTransferTx(fromPub, toPub, lamports, blockhash, signer)
	if err != nil {
		return nil, err
	}

	broadcastSig, err := s.rpcHelper.SendTransaction(ctx, encodeBase64(raw))
	if err != nil {
		return nil, err
	}
	if broadcastSig == "" {
		broadcastSig = signature
	}

	now := time.Now()
	_ = s.txStore.Set(req.IntentID, &txstore.TxState{
		Key: req.IntentID, ChainID: "solana", Txid: broadcastSig, RawTx: raw,
		RetryCount: 1, FirstSeen: now, LastRetry: now, Status: txstore.TxStatusPending,
	})

	return &chainadapter.TransferResult{Txid: broadcastSig, SubmittedAt: now}, nil
}

func (s *SolanaAdapter) QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*chainadapter.NativeQuote, error) {
	if s.priceSource == nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "no price source configured", nil, nil)
	}
	rate, err := s.priceSource.GetNativeUSDPrice(ctx, "solana")
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price query failed", nil, err)
	}
	if rate.IsZero() {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeOracleUnavailable, "price source returned zero rate", nil, nil)
	}
	return &chainadapter.NativeQuote{
		NativeAmount: usdAmount.Div(rate), QuotedAt: time.Now(),
		Source: s.priceSource.ProviderName(), RateUSD: rate,
	}, nil
}

// ApproveBrokerForToken has no Solana analogue: SPL transfers move through
// an associated token account the broker would have to co-own, not an
// allowance the escrow grants, so this is unsupported until that account
// model is built.
func (s *SolanaAdapter) ApproveBrokerForToken(ctx context.Context, escrow *chainadapter.Escrow, tokenAddr string) error {
	return chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "Solana adapter does not support SPL token approvals", nil)
}

func (s *SolanaAdapter) GetInternalTransactions(ctx context.Context, txid string) ([]chainadapter.InternalTransfer, error) {
	return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedOp, "Solana has no internal call traces", nil)
}

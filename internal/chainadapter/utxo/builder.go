// Package bitcoin - Transaction builder implementation
package bitcoin

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/otcswap/broker/internal/chainadapter"
)

// UTXO represents an unspent transaction output
type UTXO struct {
	TxID          string
	Vout          uint32
	Amount        int64
	ScriptPubKey  []byte
	Address       string
	Confirmations int
}

// TransactionBuilder builds Bitcoin transactions for escrow payouts.
type TransactionBuilder struct {
	network *chaincfg.Params
}

// NewTransactionBuilder creates a new Bitcoin transaction builder.
func NewTransactionBuilder(network string) (*TransactionBuilder, error) {
	params, err := networkParams(network)
	if err != nil {
		return nil, err
	}
	return &TransactionBuilder{network: params}, nil
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}

// BuildTransfer constructs an unsigned transaction spending selected UTXOs
// from the escrow address to a single recipient, with any leftover value
// returned to the escrow address as change.
func (tb *TransactionBuilder) BuildTransfer(from, to string, amountSats int64, utxos []UTXO, feeRate int64) (*wire.MsgTx, []UTXO, int64, error) {
	if amountSats <= 0 {
		return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount, "amount must be positive", nil)
	}

	selected, changeAmount, err := tb.selectUTXOs(utxos, amountSats, feeRate)
	if err != nil {
		return nil, nil, 0, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	for _, utxo := range selected {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, fmt.Sprintf("invalid UTXO txid: %s", utxo.TxID), err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(txHash, utxo.Vout), nil, nil))
	}

	recipientAddr, err := btcutil.DecodeAddress(to, tb.network)
	if err != nil {
		return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, fmt.Sprintf("invalid recipient address: %s", to), err)
	}
	recipientScript, err := txscript.PayToAddrScript(recipientAddr)
	if err != nil {
		return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "failed to create recipient script", err)
	}
	tx.AddTxOut(wire.NewTxOut(amountSats, recipientScript))

	if changeAmount > 0 {
		changeAddr, err := btcutil.DecodeAddress(from, tb.network)
		if err != nil {
			return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, fmt.Sprintf("invalid change address: %s", from), err)
		}
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "failed to create change script", err)
		}
		tx.AddTxOut(wire.NewTxOut(changeAmount, changeScript))
	}

	fee := int64(tx.SerializeSize()) * feeRate
	return tx, selected, fee, nil
}

// selectUTXOs picks UTXOs in the order given until amount+fee is covered;
// they are not sorted by value.
func (tb *TransactionBuilder) selectUTXOs(utxos []UTXO, amount int64, feeRate int64) ([]UTXO, int64, error) {
	estimatedSize := int64(10 + 148*len(utxos) + 34*2)
	estimatedFee := estimatedSize * feeRate
	totalNeeded := amount + estimatedFee

	selected := make([]UTXO, 0)
	totalSelected := int64(0)
	for _, utxo := range utxos {
		selected = append(selected, utxo)
		totalSelected += utxo.Amount
		if totalSelected >= totalNeeded {
			break
		}
	}

	if totalSelected < totalNeeded {
		return nil, 0, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInsufficientFunds,
			fmt.Sprintf("insufficient funds: have %d satoshis, need %d satoshis", totalSelected, totalNeeded),
			nil,
		)
	}

	changeAmount := totalSelected - amount - estimatedFee
	const dustThreshold = 546
	if changeAmount > 0 && changeAmount < dustThreshold {
		changeAmount = 0
	}

	return selected, changeAmount, nil
}

// serializeUnsigned returns the transaction's wire serialization, including
// any witness data already attached; SubmitTransfer uses it for the signed
// bytes it broadcasts.
func serializeUnsigned(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "failed to serialize transaction", err)
	}
	return buf.Bytes(), nil
}

package solana

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/otcswap/broker/internal/chainadapter"
)

// lamportsPerSOL is the fixed conversion factor Solana uses for its native
// unit; unlike EVM chains this never varies per network.
const lamportsPerSOL = 1_000_000_000

// buildTransferTx assembles and signs a single native-SOL transfer,
// returning both the wire-format bytes (for broadcast) and the tx
// signature solana derives its transaction id from.
func buildTransferTx(from, to solana.PublicKey, lamports uint64, recentBlockhash string, signer ed25519.PrivateKey) ([]byte, string, error) {
	blockhash, err := solana.HashFromBase58(recentBlockhash)
	if err != nil {
		return nil, "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "invalid blockhash", err)
	}

	transferIx := system.NewTransferInstruction(lamports, from, to).Build()

	tx, err := solana.NewTransaction([]solana.Instruction{transferIx}, blockhash, solana.TransactionPayer(from))
	if err != nil {
		return nil, "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, "failed to build transfer transaction", err)
	}

	privKey := solana.PrivateKey(signer)
	signatures, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(privKey.PublicKey()) {
			return &privKey
		}
		return nil
	})
	if err != nil || len(signatures) == 0 {
		return nil, "", chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", "failed to sign transfer transaction", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", chainadapter.NewNonRetryableError("ERR_SERIALIZE_FAILED", "failed to serialize transaction", err)
	}

	return raw, signatures[0].String(), nil
}

func encodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

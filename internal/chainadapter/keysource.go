// Package chainadapter - Key source and signing abstractions
package chainadapter

// KeySource abstracts key material sources for address derivation.
// Implementations MUST NOT expose private key material directly.
type KeySource interface {
	// Type returns the type of key source
	Type() KeySourceType

	// GetPublicKey derives the public key for the given BIP44 derivation path.
	// Path format: m/44'/cointype'/account'/change/index
	//
	// Returns:
	// - Public key bytes (compressed format)
	// - Error if path is invalid or derivation fails
	GetPublicKey(path string) ([]byte, error)
}

// KeySourceType identifies the type of key source
type KeySourceType string

const (
	// KeySourceMnemonic represents a BIP39 mnemonic phrase
	KeySourceMnemonic KeySourceType = "mnemonic"

	// KeySourceXPub represents an extended public key (xpub/ypub/zpub)
	KeySourceXPub KeySourceType = "xpub"

	// KeySourceHardwareWallet represents a hardware wallet (Ledger/Trezor)
	KeySourceHardwareWallet KeySourceType = "hardware"
)

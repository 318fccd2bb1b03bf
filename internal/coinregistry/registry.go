package coinregistry

import "fmt"

// Registry is a static catalog of chains the broker can settle on.
type Registry struct {
	chains map[string]ChainMetadata
}

// NewRegistry returns a registry pre-populated with the chains this
// deployment is configured for. Operators extend it via Register.
func NewRegistry() *Registry {
	r := &Registry{chains: make(map[string]ChainMetadata)}

	r.mustAdd(ChainMetadata{
		ChainID:          "alpha-mainnet",
		NativeSymbol:     "ALPHA",
		Category:         ChainCategoryUTXO,
		KeyType:          KeyTypeSecp256k1,
		MinConfirmations: 6,
	})
	r.mustAdd(ChainMetadata{
		ChainID:          "ethereum",
		NativeSymbol:     "ETH",
		Category:         ChainCategoryEVM,
		KeyType:          KeyTypeSecp256k1,
		MinConfirmations: 12,
	})
	r.mustAdd(ChainMetadata{
		ChainID:          "polygon",
		NativeSymbol:     "MATIC",
		Category:         ChainCategoryEVM,
		KeyType:          KeyTypeSecp256k1,
		MinConfirmations: 30,
	})
	r.mustAdd(ChainMetadata{
		ChainID:          "solana",
		NativeSymbol:     "SOL",
		Category:         ChainCategorySolana,
		KeyType:          KeyTypeEd25519,
		MinConfirmations: 32,
	})

	return r
}

func (r *Registry) mustAdd(c ChainMetadata) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("coinregistry: invalid built-in chain %s: %v", c.ChainID, err))
	}
	r.chains[c.ChainID] = c
}

// Register adds or replaces a chain's metadata.
func (r *Registry) Register(c ChainMetadata) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("coinregistry: %w", err)
	}
	r.chains[c.ChainID] = c
	return nil
}

// Get returns metadata for a chain by ID.
func (r *Registry) Get(chainID string) (*ChainMetadata, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("coinregistry: unknown chain %q", chainID)
	}
	return &c, nil
}

// All returns every registered chain, unordered.
func (r *Registry) All() []ChainMetadata {
	out := make([]ChainMetadata, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	return out
}

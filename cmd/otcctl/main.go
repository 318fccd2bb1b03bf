// Command otcctl is the operator's command-line tool: wallet bootstrap and
// deal/gas-tank administration that doesn't belong behind the public
// JSON-RPC surface.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/otcswap/broker/internal/adapterregistry"
	"github.com/otcswap/broker/internal/bip39service"
	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/coinregistry"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/gastank"
	"github.com/otcswap/broker/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate-mnemonic":
		handleGenerateMnemonic(os.Args[2:])
	case "fund-gas":
		handleFundGas(os.Args[2:])
	case "show-deal":
		handleShowDeal(os.Args[2:])
	case "set-price":
		handleSetPrice(os.Args[2:])
	case "status":
		handleRPCStatus(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`otcctl - broker operator tool

Usage:
  otcctl generate-mnemonic [--words 12|24]
      Generate a new BIP39 mnemonic for BROKER_MNEMONIC. Print it once and
      store it out of band; it is never written to disk by this tool.

  otcctl fund-gas <dealId> <side: A|B> <gasAmount>
      Send gasAmount of the side's chain's native asset from the operator's
      tank wallet to the deal's escrow for that side, and wait for
      confirmation. Requires BROKER_MNEMONIC, TANK_WALLET_PRIVATE_KEY, and
      {CHAIN}_RPC to be configured for the side's chain.

  otcctl show-deal <dealId>
      Print a deal's full stored record as JSON, read directly from
      DATA_DIR/deals.

  otcctl set-price <chainId> <pair> <price>
      Call admin.setPrice against a running otcd over RPC_URL (default
      http://localhost:8080/rpc).

  otcctl status <dealId>
      Call otc.status against a running otcd over RPC_URL and print the
      result as JSON.`)
}

// rpcCall posts a JSON-RPC 2.0 request to RPC_URL and decodes its result
// into out, or returns the server's error message.
func rpcCall(method string, params interface{}, out interface{}) error {
	url := envOrDefault("RPC_URL", "http://localhost:8080/rpc")
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": json.RawMessage(paramsRaw),
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s (%v)", decoded.Error.Message, decoded.Error.Data)
	}
	if out != nil {
		return json.Unmarshal(decoded.Result, out)
	}
	return nil
}

func handleSetPrice(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: otcctl set-price <chainId> <pair> <price>")
		os.Exit(1)
	}
	params := map[string]string{"chainId": args[0], "pair": args[1], "price": args[2]}
	if err := rpcCall("admin.setPrice", params, nil); err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func handleRPCStatus(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: otcctl status <dealId>")
		os.Exit(1)
	}
	var result json.RawMessage
	if err := rpcCall("otc.status", map[string]string{"dealId": args[0]}, &result); err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(os.Stdout, string(result))
		return
	}
	fmt.Println(pretty.String())
}

func handleGenerateMnemonic(args []string) {
	words := 12
	for i := 0; i < len(args); i++ {
		if args[i] == "--words" && i+1 < len(args) {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "otcctl: invalid --words value: %v\n", err)
				os.Exit(1)
			}
			words = n
			i++
		}
	}

	svc := bip39service.NewBIP39Service()
	mnemonic, err := svc.GenerateMnemonic(words)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(mnemonic)
}

func handleFundGas(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: otcctl fund-gas <dealId> <side: A|B> <gasAmount>")
		os.Exit(1)
	}
	dealID, sideArg, amountArg := args[0], args[1], args[2]

	side, err := sideFromArg(sideArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	gasAmount, err := decimal.NewFromString(amountArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: invalid gas amount %q: %v\n", amountArg, err)
		os.Exit(1)
	}

	deals, err := openDealStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	dl, err := deals.Get(dealID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	escrow, ok := dl.Escrow[side]
	if !ok || escrow.Address == "" {
		fmt.Fprintf(os.Stderr, "otcctl: deal %s has no escrow generated for side %s yet\n", dealID, side)
		os.Exit(1)
	}

	cfg, registry, err := bootstrapAdapters()
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}

	chainID := dl.Spec[side].ChainID
	ctx := context.Background()
	adapter, err := registry.GetAdapter(ctx, chainID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: no adapter configured for chain %s: %v\n", chainID, err)
		os.Exit(1)
	}

	// The tank wallet reuses the broker's own mnemonic at a derivation path
	// reserved for operator funding, never handed out as a deal escrow.
	tankEscrow, err := adapter.GenerateEscrow(ctx, "NATIVE", "operator-gastank", "TANK")
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: failed to derive tank wallet address: %v\n", err)
		os.Exit(1)
	}

	tank := &gastank.Tank{
		Escrow:    tankEscrow,
		Adapter:   adapter,
		Available: cfg.TankWalletPrivateKey != "",
	}
	if !tank.Available {
		fmt.Fprintln(os.Stderr, "otcctl: TANK_WALLET_PRIVATE_KEY is not set, refusing to fund")
		os.Exit(1)
	}

	intentID := "manual-gas-" + dealID + "-" + string(side)
	fmt.Printf("funding %s (%s) with %s native from tank %s, waiting for confirmation...\n", escrow.Address, chainID, gasAmount, tankEscrow.Address)
	if err := tank.FundEscrow(ctx, intentID, &chainadapter.Escrow{Address: escrow.Address, KeyRef: escrow.KeyRef}, gasAmount); err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: funding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("confirmed")
}

func handleShowDeal(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: otcctl show-deal <dealId>")
		os.Exit(1)
	}
	deals, err := openDealStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	dl, err := deals.Get(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(dl)
}

func sideFromArg(s string) (deal.Side, error) {
	switch s {
	case "A", "a":
		return deal.SideA, nil
	case "B", "b":
		return deal.SideB, nil
	default:
		return "", fmt.Errorf("invalid side %q, must be A or B", s)
	}
}

func openDealStore() (store.DealStore, error) {
	dataDir := envOrDefault("DATA_DIR", "./data")
	return store.NewFileDealStore(dataDir + "/deals")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type bootstrapConfig struct {
	TankWalletPrivateKey string
}

// bootstrapAdapters builds just enough of otcd's wiring for a one-off
// command: a key source from BROKER_MNEMONIC and an adapter registry from
// {CHAIN}_RPC env vars, without the RPC server or background driver.
func bootstrapAdapters() (*bootstrapConfig, *adapterregistry.Service, error) {
	mnemonic := os.Getenv("BROKER_MNEMONIC")
	if mnemonic == "" {
		return nil, nil, fmt.Errorf("BROKER_MNEMONIC is required")
	}
	keys, err := chainadapter.NewMnemonicKeySource(mnemonic, os.Getenv("BROKER_MNEMONIC_PASSPHRASE"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid BROKER_MNEMONIC: %w", err)
	}

	chains := coinregistry.NewRegistry()
	var configs []adapterregistry.ChainConfig
	for _, c := range chains.All() {
		rpc := os.Getenv(chainEnvPrefix(c.ChainID) + "_RPC")
		if rpc == "" {
			continue
		}
		entry := adapterregistry.ChainConfig{
			ChainID:          c.ChainID,
			RPCEndpoint:      rpc,
			MinConfirmations: c.MinConfirmations,
			Category:         string(c.Category),
		}
		if c.Category == coinregistry.ChainCategoryUTXO {
			entry.Network = "mainnet"
		}
		configs = append(configs, entry)
	}
	registry := adapterregistry.NewService(configs, keys, nil, nil)

	cfg := &bootstrapConfig{TankWalletPrivateKey: os.Getenv("TANK_WALLET_PRIVATE_KEY")}
	return cfg, registry, nil
}

func chainEnvPrefix(chainID string) string {
	b := []byte(chainID)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
		if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mintresult"
)

const testContract = "0x1111111111111111111111111111111111111111"

func TestParseOptions_Defaults(t *testing.T) {
	t.Parallel()

	opts, err := parseOptions([]string{"--contract", testContract})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.chain.ChainID() != config.BaseMainnetChainID {
		t.Fatalf("chain id: got=%d", opts.chain.ChainID())
	}
	if opts.quantity != 1 || !opts.resolve {
		t.Fatalf("unexpected defaults: qty=%d resolve=%v", opts.quantity, opts.resolve)
	}
	if opts.keyRef != "env:FROC_MINT_PRIVATE_KEY" {
		t.Fatalf("key ref: %q", opts.keyRef)
	}
	if opts.txHash != (common.Hash{}) {
		t.Fatalf("tx hash should be unset")
	}
}

func TestParseOptions_TxHashMode(t *testing.T) {
	t.Parallel()

	h := "0x" + strings.Repeat("ab", 32)
	// qty is not checked when resolving an existing mint.
	opts, err := parseOptions([]string{"--contract", testContract, "--tx-hash", h, "--qty", "0"})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.txHash != common.HexToHash(h) {
		t.Fatalf("tx hash: got=%s", opts.txHash.Hex())
	}
}

func TestRunMain_RejectsBadFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{name: "missing contract", args: nil},
		{name: "bad contract", args: []string{"--contract", "0x1234"}},
		{name: "zero contract", args: []string{"--contract", "0x0000000000000000000000000000000000000000"}},
		{name: "qty zero", args: []string{"--contract", testContract, "--qty", "0"}},
		{name: "qty too large", args: []string{"--contract", testContract, "--qty", "11"}},
		{name: "bad tx hash", args: []string{"--contract", testContract, "--tx-hash", "0xabc"}},
		{name: "bad key ref", args: []string{"--contract", testContract, "--key-ref", "vault:froc"}},
		{name: "bad gateway", args: []string{"--contract", testContract, "--gateway", "ftp://x/"}},
		{name: "gas multiplier", args: []string{"--contract", testContract, "--gas-limit-multiplier", "0.5"}},
		{name: "metadata attempts", args: []string{"--contract", testContract, "--metadata-max-attempts", "0"}},
		{name: "timeout", args: []string{"--contract", testContract, "--timeout", "0s"}},
		{name: "unknown flag", args: []string{"--contract", testContract, "--nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := runMain(context.Background(), tc.args, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if !errors.Is(err, errUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
			if out.Len() != 0 {
				t.Fatalf("unexpected output: %q", out.String())
			}
		})
	}
}

func TestPrintItems(t *testing.T) {
	t.Parallel()

	chain, err := config.NewChain(config.ChainParams{Contract: testContract})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	tx := common.HexToHash("0x01")
	items := []mintresult.Item{
		{TokenID: big.NewInt(7), Name: "FROC #7", ExternalURL: chain.TokenURL(big.NewInt(7))},
		{
			TokenID:    big.NewInt(8),
			Name:       "FROC #8",
			Image:      "https://gateway.lighthouse.storage/ipfs/cid/8.png",
			Attributes: []metadata.Attribute{{TraitType: "Hat", Value: "Crown"}},
		},
	}

	var out bytes.Buffer
	if err := printItems(&out, chain, tx, items, true); err != nil {
		t.Fatalf("printItems: %v", err)
	}

	var got snapshotOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !got.Done || got.TxHash != tx.Hex() || got.ExplorerURL != chain.TxURL(tx) {
		t.Fatalf("unexpected header: %+v", got)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items: got=%d want=2", len(got.Items))
	}
	if got.Items[0].TokenID != "7" || got.Items[0].Resolved {
		t.Fatalf("item 0: %+v", got.Items[0])
	}
	if got.Items[1].TokenID != "8" || !got.Items[1].Resolved || len(got.Items[1].Attributes) != 1 {
		t.Fatalf("item 1: %+v", got.Items[1])
	}
}

func TestPrintIDs(t *testing.T) {
	t.Parallel()

	chain, err := config.NewChain(config.ChainParams{Contract: testContract})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	var out bytes.Buffer
	if err := printIDs(&out, chain, common.HexToHash("0x02"), []*big.Int{big.NewInt(3)}); err != nil {
		t.Fatalf("printIDs: %v", err)
	}
	var got snapshotOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "FROC #3" || got.Items[0].ExternalURL != chain.TokenURL(big.NewInt(3)) {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
}

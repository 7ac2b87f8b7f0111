package config

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testContract = "0x1234567890abcdef1234567890abcdef12345678"

func TestNewChain_Defaults(t *testing.T) {
	t.Parallel()

	c, err := NewChain(ChainParams{Contract: testContract})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if c.ChainID() != BaseMainnetChainID {
		t.Fatalf("chain id: got %d want %d", c.ChainID(), BaseMainnetChainID)
	}
	if c.RPCURL() != DefaultRPCURL {
		t.Fatalf("rpc url: got %q", c.RPCURL())
	}
	if c.Gateway() != DefaultGateway {
		t.Fatalf("gateway: got %q", c.Gateway())
	}
	if c.Contract() != common.HexToAddress(testContract) {
		t.Fatalf("contract: got %s", c.Contract())
	}
}

func TestNewChain_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    ChainParams
	}{
		{name: "missing contract", p: ChainParams{}},
		{name: "zero contract", p: ChainParams{Contract: "0x0000000000000000000000000000000000000000"}},
		{name: "bad rpc scheme", p: ChainParams{Contract: testContract, RPCURL: "ftp://rpc"}},
		{name: "gateway without host", p: ChainParams{Contract: testContract, Gateway: "https://"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewChain(tc.p); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestChain_TokenLabels(t *testing.T) {
	t.Parallel()

	c, err := NewChain(ChainParams{Contract: testContract, Gateway: "https://gw.example/ipfs", Marketplace: "https://market.example/assets/base/"})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if c.Gateway() != "https://gw.example/ipfs/" {
		t.Fatalf("gateway should gain trailing slash: %q", c.Gateway())
	}
	id := big.NewInt(42)
	if got := c.TokenName(id); got != "FROC #42" {
		t.Fatalf("name: got %q", got)
	}
	want := "https://market.example/assets/base/" + common.HexToAddress(testContract).Hex() + "/42"
	if got := c.TokenURL(id); got != want {
		t.Fatalf("token url: got %q want %q", got, want)
	}
}

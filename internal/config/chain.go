package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidConfig = errors.New("config: invalid chain config")

const (
	BaseMainnetChainID = 8453
	DefaultRPCURL      = "https://mainnet.base.org"
	DefaultCollection  = "FROC"
	DefaultGateway     = "https://gateway.lighthouse.storage/ipfs/"
	DefaultMarketplace = "https://opensea.io/assets/base"
	DefaultExplorerTx  = "https://basescan.org/tx"
)

// Chain is the network and contract configuration shared by every component.
//
// Values are built once at startup via NewChain and never mutated afterwards;
// accessors return copies where the underlying type is mutable.
type Chain struct {
	chainID     uint64
	rpcURL      string
	contract    common.Address
	collection  string
	gateway     string
	marketplace string
	explorerTx  string
}

type ChainParams struct {
	ChainID     uint64
	RPCURL      string
	Contract    string
	Collection  string
	Gateway     string
	Marketplace string
	ExplorerTx  string
}

func NewChain(p ChainParams) (Chain, error) {
	if p.ChainID == 0 {
		p.ChainID = BaseMainnetChainID
	}
	if strings.TrimSpace(p.RPCURL) == "" {
		p.RPCURL = DefaultRPCURL
	}
	if strings.TrimSpace(p.Collection) == "" {
		p.Collection = DefaultCollection
	}
	if strings.TrimSpace(p.Gateway) == "" {
		p.Gateway = DefaultGateway
	}
	if strings.TrimSpace(p.Marketplace) == "" {
		p.Marketplace = DefaultMarketplace
	}
	if strings.TrimSpace(p.ExplorerTx) == "" {
		p.ExplorerTx = DefaultExplorerTx
	}

	contract := strings.TrimSpace(p.Contract)
	if !common.IsHexAddress(contract) {
		return Chain{}, fmt.Errorf("%w: contract must be a hex address", ErrInvalidConfig)
	}
	addr := common.HexToAddress(contract)
	if addr == (common.Address{}) {
		return Chain{}, fmt.Errorf("%w: contract must be non-zero", ErrInvalidConfig)
	}
	for name, raw := range map[string]string{
		"rpc url":     p.RPCURL,
		"gateway":     p.Gateway,
		"marketplace": p.Marketplace,
		"explorer":    p.ExplorerTx,
	} {
		if err := validateURL(raw); err != nil {
			return Chain{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}

	gateway := strings.TrimSpace(p.Gateway)
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}

	return Chain{
		chainID:     p.ChainID,
		rpcURL:      strings.TrimSpace(p.RPCURL),
		contract:    addr,
		collection:  strings.TrimSpace(p.Collection),
		gateway:     gateway,
		marketplace: strings.TrimRight(strings.TrimSpace(p.Marketplace), "/"),
		explorerTx:  strings.TrimRight(strings.TrimSpace(p.ExplorerTx), "/"),
	}, nil
}

func (c Chain) ChainID() uint64          { return c.chainID }
func (c Chain) ChainIDBig() *big.Int     { return new(big.Int).SetUint64(c.chainID) }
func (c Chain) RPCURL() string           { return c.rpcURL }
func (c Chain) Contract() common.Address { return c.contract }
func (c Chain) Collection() string       { return c.collection }
func (c Chain) Gateway() string          { return c.gateway }
func (c Chain) MarketplaceBase() string  { return c.marketplace }
func (c Chain) IsZero() bool             { return c.chainID == 0 }

// TokenURL is the marketplace page for a single token.
func (c Chain) TokenURL(tokenID *big.Int) string {
	if tokenID == nil {
		return ""
	}
	return c.marketplace + "/" + c.contract.Hex() + "/" + tokenID.String()
}

// TokenName is the display label "<collection> #<id>".
func (c Chain) TokenName(tokenID *big.Int) string {
	if tokenID == nil {
		return c.collection
	}
	return c.collection + " #" + tokenID.String()
}

func (c Chain) TxURL(txHash common.Hash) string {
	return c.explorerTx + "/" + txHash.Hex()
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

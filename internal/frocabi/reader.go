package frocabi

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidReader = errors.New("frocabi: invalid reader")

// Reader performs read-only calls against a deployed FROC contract.
type Reader struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewReader(address common.Address, caller bind.ContractCaller) (*Reader, error) {
	if caller == nil || address == (common.Address{}) {
		return nil, ErrInvalidReader
	}
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	return &Reader{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

func (r *Reader) Address() common.Address { return r.address }

func (r *Reader) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	if tokenID == nil {
		return "", fmt.Errorf("%w: nil token id", ErrInvalidInput)
	}
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenURI", tokenID); err != nil {
		return "", fmt.Errorf("frocabi: call tokenURI(%s): %w", tokenID, err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("frocabi: tokenURI returned %d values", len(out))
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("frocabi: tokenURI returned %T", out[0])
	}
	return s, nil
}

func (r *Reader) Price(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "price")
}

func (r *Reader) MintActive(ctx context.Context) (bool, error) {
	return r.callBool(ctx, "mintActive")
}

func (r *Reader) TotalMinted(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "totalMinted")
}

func (r *Reader) MaxSupply(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "MAX_SUPPLY")
}

func (r *Reader) MetadataFrozen(ctx context.Context) (bool, error) {
	return r.callBool(ctx, "metadataFrozen")
}

// Stats is the sale state shown next to the mint form.
type Stats struct {
	Price          *big.Int
	MintActive     bool
	TotalMinted    *big.Int
	MaxSupply      *big.Int
	MetadataFrozen bool
}

// Stats reads every sale field. The reads are not atomic across blocks.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Price, err = r.Price(ctx); err != nil {
		return Stats{}, err
	}
	if st.MintActive, err = r.MintActive(ctx); err != nil {
		return Stats{}, err
	}
	if st.TotalMinted, err = r.TotalMinted(ctx); err != nil {
		return Stats{}, err
	}
	if st.MaxSupply, err = r.MaxSupply(ctx); err != nil {
		return Stats{}, err
	}
	if st.MetadataFrozen, err = r.MetadataFrozen(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (r *Reader) call(ctx context.Context, method string) (interface{}, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("frocabi: call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("frocabi: %s returned %d values", method, len(out))
	}
	return out[0], nil
}

func (r *Reader) callUint(ctx context.Context, method string) (*big.Int, error) {
	v, err := r.call(ctx, method)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("frocabi: %s returned %T", method, v)
	}
	return n, nil
}

func (r *Reader) callBool(ctx context.Context, method string) (bool, error) {
	v, err := r.call(ctx, method)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("frocabi: %s returned %T", method, v)
	}
	return b, nil
}

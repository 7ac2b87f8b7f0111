package eth

import (
	"errors"
	"math/big"
)

var ErrInvalidFeeArgs = errors.New("eth: invalid fee args")

// Fees is an EIP-1559 priority tip and fee cap pair.
type Fees struct {
	Tip *big.Int
	Cap *big.Int
}

// QuoteFees prices a mint transaction off the latest base fee:
// tip = max(suggested, minTip), cap = 2*baseFee + tip.
func QuoteFees(baseFee, suggestedTip, minTip *big.Int) (Fees, error) {
	if baseFee == nil || suggestedTip == nil || minTip == nil {
		return Fees{}, ErrInvalidFeeArgs
	}
	if baseFee.Sign() < 0 || suggestedTip.Sign() < 0 || minTip.Sign() < 0 {
		return Fees{}, ErrInvalidFeeArgs
	}

	tip := new(big.Int).Set(suggestedTip)
	if tip.Cmp(minTip) < 0 {
		tip.Set(minTip)
	}
	feeCap := new(big.Int).Lsh(baseFee, 1)
	feeCap.Add(feeCap, tip)
	return Fees{Tip: tip, Cap: feeCap}, nil
}

// Bump raises both values by percent, never by less than the given minimum
// increments, so a replacement is accepted by the txpool even for tiny fees.
func (f Fees) Bump(percent int, minTipBump, minCapBump *big.Int) (Fees, error) {
	if f.Tip == nil || f.Cap == nil || f.Tip.Sign() < 0 || f.Cap.Sign() < 0 {
		return Fees{}, ErrInvalidFeeArgs
	}
	if percent <= 0 {
		return Fees{}, ErrInvalidFeeArgs
	}
	if (minTipBump != nil && minTipBump.Sign() < 0) || (minCapBump != nil && minCapBump.Sign() < 0) {
		return Fees{}, ErrInvalidFeeArgs
	}

	out := Fees{
		Tip: bumpBy(f.Tip, percent, minTipBump),
		Cap: bumpBy(f.Cap, percent, minCapBump),
	}
	if out.Cap.Cmp(out.Tip) < 0 {
		out.Cap = new(big.Int).Set(out.Tip)
	}
	return out, nil
}

func bumpBy(v *big.Int, percent int, minIncrement *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(100+percent)))
	out.Quo(out, big.NewInt(100))
	if minIncrement != nil {
		if floor := new(big.Int).Add(v, minIncrement); out.Cmp(floor) < 0 {
			out = floor
		}
	}
	return out
}

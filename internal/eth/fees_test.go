package eth

import (
	"errors"
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestQuoteFees(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name              string
		baseFee, tip, min int64
		wantTip, wantCap  int64
	}{
		{name: "min tip wins", baseFee: 100, tip: 2, min: 5, wantTip: 5, wantCap: 205},
		{name: "suggested tip wins", baseFee: 10, tip: 7, min: 1, wantTip: 7, wantCap: 27},
		{name: "zero base fee", baseFee: 0, tip: 3, min: 0, wantTip: 3, wantCap: 3},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f, err := QuoteFees(bi(tc.baseFee), bi(tc.tip), bi(tc.min))
			if err != nil {
				t.Fatalf("QuoteFees: %v", err)
			}
			if f.Tip.Cmp(bi(tc.wantTip)) != 0 || f.Cap.Cmp(bi(tc.wantCap)) != 0 {
				t.Fatalf("got tip=%s cap=%s want tip=%d cap=%d", f.Tip, f.Cap, tc.wantTip, tc.wantCap)
			}
		})
	}

	if _, err := QuoteFees(nil, bi(1), bi(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("expected ErrInvalidFeeArgs, got %v", err)
	}
	if _, err := QuoteFees(bi(-1), bi(1), bi(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("expected ErrInvalidFeeArgs, got %v", err)
	}
}

func TestFees_Bump(t *testing.T) {
	t.Parallel()

	// 10% of 1 and 2 rounds away; the minimum increment keeps the bump.
	f, err := Fees{Tip: bi(1), Cap: bi(2)}.Bump(10, bi(1), bi(1))
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if f.Tip.Cmp(bi(2)) != 0 || f.Cap.Cmp(bi(3)) != 0 {
		t.Fatalf("got tip=%s cap=%s", f.Tip, f.Cap)
	}

	f, err = Fees{Tip: bi(1000), Cap: bi(5000)}.Bump(12, nil, nil)
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if f.Tip.Cmp(bi(1120)) != 0 || f.Cap.Cmp(bi(5600)) != 0 {
		t.Fatalf("got tip=%s cap=%s", f.Tip, f.Cap)
	}

	f, err = Fees{Tip: bi(100), Cap: bi(100)}.Bump(10, bi(50), nil)
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if f.Cap.Cmp(f.Tip) < 0 {
		t.Fatalf("cap below tip: tip=%s cap=%s", f.Tip, f.Cap)
	}

	if _, err := (Fees{Tip: bi(1), Cap: bi(1)}).Bump(0, nil, nil); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("expected ErrInvalidFeeArgs, got %v", err)
	}
}

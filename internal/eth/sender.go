package eth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
)

var ErrInvalidSenderConfig = errors.New("eth: invalid sender config")

type Backend interface {
	PendingNoncer
	ReceiptFetcher
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type SenderConfig struct {
	ChainID *big.Int

	// GasLimitMultiplier pads the node's gas estimate. Defaults to 1.2.
	GasLimitMultiplier float64
	MinTipCap          *big.Int

	ReceiptPollInterval time.Duration

	// Replacement is disabled when MaxReplacements is 0.
	ReplaceAfter    time.Duration
	MaxReplacements int
	BumpPercent     int
	MinTipBump      *big.Int
	MinFeeCapBump   *big.Int

	// OnBroadcast runs after every accepted broadcast, replacements included.
	OnBroadcast func(txHash common.Hash)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger
}

// Sender signs, broadcasts and follows mint transactions from one account.
type Sender struct {
	backend Backend
	signer  Signer
	nonces  *Nonces
	cfg     SenderConfig
	log     *slog.Logger
}

type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // 0 => estimate
}

type SendResult struct {
	From         common.Address
	Nonce        uint64
	TxHash       common.Hash
	Receipt      *types.Receipt
	Replacements int
}

func NewSender(backend Backend, signer Signer, cfg SenderConfig) (*Sender, error) {
	if backend == nil || signer == nil || (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: backend and signer are required", ErrInvalidSenderConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be positive", ErrInvalidSenderConfig)
	}
	if cfg.GasLimitMultiplier == 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.GasLimitMultiplier < 1 {
		return nil, fmt.Errorf("%w: gas limit multiplier below 1", ErrInvalidSenderConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = new(big.Int)
	}
	if cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative min tip", ErrInvalidSenderConfig)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.MaxReplacements < 0 {
		return nil, fmt.Errorf("%w: negative max replacements", ErrInvalidSenderConfig)
	}
	if cfg.MaxReplacements > 0 {
		if cfg.ReplaceAfter <= 0 || cfg.BumpPercent <= 0 {
			return nil, fmt.Errorf("%w: replacement needs replace-after and bump percent", ErrInvalidSenderConfig)
		}
		if (cfg.MinTipBump != nil && cfg.MinTipBump.Sign() < 0) || (cfg.MinFeeCapBump != nil && cfg.MinFeeCapBump.Sign() < 0) {
			return nil, fmt.Errorf("%w: negative minimum bump", ErrInvalidSenderConfig)
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Sender{
		backend: backend,
		signer:  signer,
		nonces:  NewNonces(backend, signer.Address()),
		cfg:     cfg,
		log:     log,
	}, nil
}

func (s *Sender) From() common.Address { return s.signer.Address() }

// MintRequest builds the payable mint(quantity) call for contract.
func MintRequest(contract common.Address, price *big.Int, quantity uint64) (TxRequest, error) {
	data, err := frocabi.PackMint(quantity)
	if err != nil {
		return TxRequest{}, err
	}
	value, err := frocabi.MintValue(price, quantity)
	if err != nil {
		return TxRequest{}, err
	}
	return TxRequest{To: contract, Data: data, Value: value}, nil
}

// SendAndWait broadcasts req and blocks until one of its broadcasts is mined.
// A transaction that stays pending past ReplaceAfter is re-signed at the same
// nonce with bumped fees, up to MaxReplacements times.
func (s *Sender) SendAndWait(ctx context.Context, req TxRequest) (SendResult, error) {
	from := s.signer.Address()
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := req.GasLimit
	if gas == 0 {
		est, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &req.To, Value: value, Data: req.Data})
		if err != nil {
			return SendResult{}, fmt.Errorf("eth: estimate gas: %w", err)
		}
		gas = padGas(est, s.cfg.GasLimitMultiplier)
	}

	fees, err := s.quote(ctx)
	if err != nil {
		return SendResult{}, err
	}

	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return SendResult{}, fmt.Errorf("eth: nonce: %w", err)
	}

	sign := func(f Fees) (*types.Transaction, error) {
		to := req.To
		return s.signer.SignTx(types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.cfg.ChainID,
			Nonce:     nonce,
			GasTipCap: f.Tip,
			GasFeeCap: f.Cap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		}), s.cfg.ChainID)
	}

	tx, err := sign(fees)
	if err != nil {
		s.nonces.Release(nonce)
		return SendResult{}, err
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		s.nonces.Release(nonce)
		return SendResult{}, fmt.Errorf("eth: broadcast: %w", err)
	}
	s.broadcasted(tx, 0)

	sent := []common.Hash{tx.Hash()}
	lastSent := s.cfg.Now()
	replacements := 0

	for {
		for _, h := range sent {
			receipt, err := s.backend.TransactionReceipt(ctx, h)
			if err == nil && receipt != nil {
				return SendResult{
					From:         from,
					Nonce:        nonce,
					TxHash:       h,
					Receipt:      receipt,
					Replacements: replacements,
				}, nil
			}
			if err != nil && !errors.Is(err, ethereum.NotFound) {
				return SendResult{}, fmt.Errorf("eth: receipt %s: %w", h.Hex(), err)
			}
		}

		if replacements < s.cfg.MaxReplacements && s.cfg.Now().Sub(lastSent) >= s.cfg.ReplaceAfter {
			fees, err = fees.Bump(s.cfg.BumpPercent, s.cfg.MinTipBump, s.cfg.MinFeeCapBump)
			if err != nil {
				return SendResult{}, err
			}
			tx, err := sign(fees)
			if err != nil {
				return SendResult{}, err
			}
			if err := s.backend.SendTransaction(ctx, tx); err != nil {
				return SendResult{}, fmt.Errorf("eth: broadcast replacement: %w", err)
			}
			replacements++
			s.broadcasted(tx, replacements)
			sent = append(sent, tx.Hash())
			lastSent = s.cfg.Now()
			continue
		}

		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPollInterval); err != nil {
			return SendResult{}, err
		}
	}
}

func (s *Sender) quote(ctx context.Context) (Fees, error) {
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("eth: suggest tip: %w", err)
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("eth: latest header: %w", err)
	}
	if header == nil || header.BaseFee == nil {
		return Fees{}, errors.New("eth: latest header has no base fee")
	}
	return QuoteFees(header.BaseFee, tip, s.cfg.MinTipCap)
}

func (s *Sender) broadcasted(tx *types.Transaction, replacement int) {
	s.log.Info("transaction broadcast",
		"tx", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
		"tipCap", tx.GasTipCap().String(),
		"feeCap", tx.GasFeeCap().String(),
		"replacement", replacement,
	)
	if s.cfg.OnBroadcast != nil {
		s.cfg.OnBroadcast(tx.Hash())
	}
}

func padGas(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := math.Ceil(float64(est) * mult)
	if out >= math.MaxUint64 {
		return est
	}
	return uint64(out)
}

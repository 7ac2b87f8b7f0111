package frocabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidInput = errors.New("frocabi: invalid input")

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// MaxMintQuantity mirrors the per-transaction cap enforced by the mint page.
const MaxMintQuantity = 10

var (
	initOnce sync.Once
	initErr  error

	frocABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		frocABI, err = abi.JSON(strings.NewReader(FrocABIJSON))
		if err != nil {
			initErr = fmt.Errorf("frocabi: parse ABI: %w", err)
			return
		}
		ev, ok := frocABI.Events["Transfer"]
		if !ok {
			initErr = errors.New("frocabi: ABI missing Transfer event")
			return
		}
		if ev.ID != TransferTopic {
			initErr = fmt.Errorf("frocabi: Transfer topic mismatch: %s", ev.ID)
		}
	})
	return initErr
}

// ABI returns the parsed contract ABI.
func ABI() (abi.ABI, error) {
	if err := initABI(); err != nil {
		return abi.ABI{}, err
	}
	return frocABI, nil
}

func PackMint(qty uint64) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if qty == 0 || qty > MaxMintQuantity {
		return nil, fmt.Errorf("%w: quantity must be in [1,%d]", ErrInvalidInput, MaxMintQuantity)
	}
	b, err := frocABI.Pack("mint", new(big.Int).SetUint64(qty))
	if err != nil {
		return nil, fmt.Errorf("frocabi: pack mint: %w", err)
	}
	return b, nil
}

// MintValue is the wei value to attach to a mint of qty tokens at price.
func MintValue(price *big.Int, qty uint64) (*big.Int, error) {
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: price must be >= 0", ErrInvalidInput)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(qty)), nil
}

func PackTokenURI(tokenID *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("%w: token id must be >= 0", ErrInvalidInput)
	}
	b, err := frocABI.Pack("tokenURI", tokenID)
	if err != nil {
		return nil, fmt.Errorf("frocabi: pack tokenURI: %w", err)
	}
	return b, nil
}

func UnpackTokenURI(out []byte) (string, error) {
	if err := initABI(); err != nil {
		return "", err
	}
	vals, err := frocABI.Unpack("tokenURI", out)
	if err != nil {
		return "", fmt.Errorf("frocabi: unpack tokenURI: %w", err)
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("frocabi: unpack tokenURI: got %d values", len(vals))
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("frocabi: unpack tokenURI: got %T", vals[0])
	}
	return s, nil
}

// TokenIDFromTopic decodes an indexed uint256 topic.
func TokenIDFromTopic(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

// TokenIDTopic encodes a token id as an indexed uint256 topic.
func TokenIDTopic(tokenID *big.Int) common.Hash {
	return common.BigToHash(tokenID)
}

// Selector returns the 4-byte selector for a method signature such as "mint(uint256)".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

const FrocABIJSON = `[
  {
    "inputs": [{"internalType":"uint256","name":"quantity","type":"uint256"}],
    "name": "mint",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "price",
    "outputs": [{"internalType":"uint256","name":"","type":"uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "mintActive",
    "outputs": [{"internalType":"bool","name":"","type":"bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "totalMinted",
    "outputs": [{"internalType":"uint256","name":"","type":"uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "MAX_SUPPLY",
    "outputs": [{"internalType":"uint256","name":"","type":"uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "metadataFrozen",
    "outputs": [{"internalType":"bool","name":"","type":"bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType":"uint256","name":"tokenId","type":"uint256"}],
    "name": "tokenURI",
    "outputs": [{"internalType":"string","name":"","type":"string"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed":true,"internalType":"address","name":"from","type":"address"},
      {"indexed":true,"internalType":"address","name":"to","type":"address"},
      {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

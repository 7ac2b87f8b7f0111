package mintresult

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
)

// ExtractTokenIDs returns the token ids of every Transfer event emitted by
// contract in receipt, in log order. Duplicates are kept.
func ExtractTokenIDs(receipt *types.Receipt, contract common.Address) []*big.Int {
	return ExtractTokenIDsWithTopic(receipt, contract, frocabi.TransferTopic)
}

func ExtractTokenIDsWithTopic(receipt *types.Receipt, contract common.Address, transferTopic common.Hash) []*big.Int {
	if receipt == nil {
		return nil
	}
	var ids []*big.Int
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		// ERC-721 Transfer indexes from, to and tokenId; ERC-20 Transfer has
		// the same signature but only three topics.
		if len(lg.Topics) < 4 || lg.Topics[0] != transferTopic {
			continue
		}
		ids = append(ids, frocabi.TokenIDFromTopic(lg.Topics[3]))
	}
	return ids
}

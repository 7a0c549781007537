package blockbuilder

import (
	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/merkle"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

// ErrHeaderHashMismatch is returned when a block's recomputed block_hash
// does not match what the header claims.
var ErrHeaderHashMismatch = errors.New("blockbuilder: block_hash mismatch")

// ErrTxRootMismatch is returned when a block's recomputed tx_root does not
// match the header's tx_root.
var ErrTxRootMismatch = errors.New("blockbuilder: tx_root mismatch")

// ErrStateRootMismatch is returned when the post-apply state_root does not
// match the header's claimed state_root.
var ErrStateRootMismatch = errors.New("blockbuilder: state_root mismatch")

// ErrGasCapExceeded is returned when a block's declared gas_used exceeds
// the hard validity cap, or does not equal the sum of its body's gas
// costs.
var ErrGasCapExceeded = errors.New("blockbuilder: gas_used exceeds cap or disagrees with body")

// Apply runs the apply_block algorithm: structural validation, tx_root
// recomputation, a gas_used check, atomic application of the body via the
// state store, and a state_root consistency check. The block_hash check
// is made by ApplyReceived before it calls Apply. On success it also removes the applied body's
// transactions from the mempool; on any failure the mempool, and the
// state store, are left exactly as they were.
func (b *Builder) Apply(block *chain.Block) (*statestore.ApplyResult, error) {
	if err := validateStructure(block); err != nil {
		return nil, err
	}

	bodyHashes := block.TxHashes()
	if txRoot := merkle.Root(bodyHashes); txRoot != block.Header.TxRoot {
		return nil, errors.Wrapf(ErrTxRootMismatch, "got %s, header claims %s", txRoot, block.Header.TxRoot)
	}

	gasUsedByBody := block.GasUsedByBody()
	if gasUsedByBody != block.Header.GasUsed || block.Header.GasUsed > chain.MaxBlockGasLimit {
		return nil, ErrGasCapExceeded
	}

	result, err := b.store.ApplyBlock(block)
	if err != nil {
		return nil, err
	}
	if result.StateRoot != block.Header.StateRoot {
		return nil, errors.Wrapf(ErrStateRootMismatch, "got %s, header claims %s", result.StateRoot, block.Header.StateRoot)
	}

	b.Include(block.Body)
	return result, nil
}

// ApplyReceived is the entry point for a block received over the network,
// whose header the caller has not yet cross-checked against an expected
// block_hash. expectedHash is the hash the caller expects for this block;
// it must match the header's own recomputed hash before anything else is
// checked. The gossip and block-sync paths pass the received header's own
// hash.
func (b *Builder) ApplyReceived(block *chain.Block, expectedHash crypto.Hash) (*statestore.ApplyResult, error) {
	if block.Header.Hash() != expectedHash {
		return nil, ErrHeaderHashMismatch
	}
	return b.Apply(block)
}

// validateStructure checks the per-transaction structural invariants
// (chain.Transaction.ValidateStructure) for every transaction in the body,
// failing fast on the first bad transaction.
func validateStructure(block *chain.Block) error {
	for i, tx := range block.Body {
		if err := tx.ValidateStructure(); err != nil {
			return errors.Wrapf(err, "blockbuilder: tx %d structurally invalid", i)
		}
	}
	return nil
}

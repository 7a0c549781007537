package chain

import (
	"testing"
	"time"

	"github.com/Quigles1337/COINjecture1337/crypto"
)

func newSignedTransfer(t *testing.T, from *crypto.KeyPair, to Address, amount, fee, nonce uint64) *Transaction {
	t.Helper()
	fromAddr, err := AddressFromPublicKey(from.PublicKey)
	if err != nil {
		t.Fatalf("AddressFromPublicKey: %v", err)
	}
	tx := &Transaction{
		CodecVersion: CodecVersion,
		TxType:       TxTypeTransfer,
		From:         fromAddr,
		To:           to,
		Amount:       amount,
		Fee:          fee,
		GasLimit:     MinTransferGasLimit,
		GasPrice:     1,
		Nonce:        nonce,
		Timestamp:    time.Now().Unix(),
	}
	tx.Sign(from)
	return tx
}

func TestTransactionSignAndVerify(t *testing.T) {
	from, _ := crypto.GenerateKeyPair()
	var to Address
	to[0] = 0x01

	tx := newSignedTransfer(t, from, to, 100, 10, 0)
	if err := tx.ValidateStructure(); err != nil {
		t.Fatalf("expected valid structure, got: %v", err)
	}

	tx.Amount = 999
	if err := tx.ValidateStructure(); err == nil {
		t.Fatal("expected structural validation to fail after tampering with a signed field")
	}
}

func TestTransactionHashDeterministic(t *testing.T) {
	from, _ := crypto.GenerateKeyPair()
	var to Address
	to[0] = 0x02
	tx := newSignedTransfer(t, from, to, 50, 5, 3)
	tx.Timestamp = 1000

	h1 := tx.Hash()
	h2 := tx.Hash()
	if h1 != h2 {
		t.Fatal("expected tx.Hash() to be a pure function of the transaction")
	}

	// Fee does not participate in the hash preimage.
	clone := *tx
	clone.Fee = tx.Fee + 1
	if clone.Hash() != h1 {
		t.Fatal("expected fee to be excluded from the hash preimage")
	}
}

func TestTransactionRejectsSelfTransfer(t *testing.T) {
	from, _ := crypto.GenerateKeyPair()
	fromAddr, _ := AddressFromPublicKey(from.PublicKey)
	tx := &Transaction{
		CodecVersion: CodecVersion,
		TxType:       TxTypeTransfer,
		From:         fromAddr,
		To:           fromAddr,
		Amount:       1,
		GasLimit:     MinTransferGasLimit,
	}
	tx.Sign(from)
	if err := tx.ValidateStructure(); err == nil {
		t.Fatal("expected self-transfer to be rejected")
	}
}

func TestBlockHeaderHashDeterministic(t *testing.T) {
	h := &BlockHeader{
		BlockNumber: 1,
		GasLimit:    DefaultBuildGasLimit,
	}
	h1 := h.Hash()
	h2 := h.Hash()
	if h1 != h2 {
		t.Fatal("expected block_hash to be a pure function of the header")
	}

	h.Nonce++
	if h.Hash() == h1 {
		t.Fatal("expected changing a header field to change block_hash")
	}
}

func TestCheckpointSignVerify(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	cp := &Checkpoint{BlockNumber: 100, Timestamp: 12345}
	if err := cp.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !cp.VerifySignature() {
		t.Fatal("expected checkpoint signature to verify")
	}
	cp.BlockNumber = 101
	if cp.VerifySignature() {
		t.Fatal("expected tampered checkpoint to fail verification")
	}
}

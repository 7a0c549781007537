package statestore

// accountRow mirrors the accounts table.
type accountRow struct {
	Address   []byte `gorm:"column:address;primary_key"`
	Balance   uint64 `gorm:"column:balance"`
	Nonce     uint64 `gorm:"column:nonce"`
	CreatedAt int64  `gorm:"column:created_at"`
}

func (accountRow) TableName() string { return "accounts" }

// blockRow mirrors the blocks table.
type blockRow struct {
	BlockNumber uint64 `gorm:"column:block_number;primary_key"`
	BlockHash   []byte `gorm:"column:block_hash"`
	ParentHash  []byte `gorm:"column:parent_hash"`
	StateRoot   []byte `gorm:"column:state_root"`
	TxRoot      []byte `gorm:"column:tx_root"`
	Timestamp   int64  `gorm:"column:timestamp"`
	Validator   []byte `gorm:"column:validator"`
	Difficulty  uint64 `gorm:"column:difficulty"`
	Nonce       uint64 `gorm:"column:nonce"`
	GasLimit    uint64 `gorm:"column:gas_limit"`
	GasUsed     uint64 `gorm:"column:gas_used"`
	ExtraData   []byte `gorm:"column:extra_data"`
	TxCount     uint64 `gorm:"column:tx_count"`
	TxData      []byte `gorm:"column:tx_data"`
	CreatedAt   int64  `gorm:"column:created_at"`
}

func (blockRow) TableName() string { return "blocks" }

// transactionRow mirrors the append-only transactions table.
type transactionRow struct {
	TxHash      []byte `gorm:"column:tx_hash;primary_key"`
	BlockNumber uint64 `gorm:"column:block_number"`
	FromAddress []byte `gorm:"column:from_address"`
	ToAddress   []byte `gorm:"column:to_address"`
	Amount      uint64 `gorm:"column:amount"`
	Fee         uint64 `gorm:"column:fee"`
	Nonce       uint64 `gorm:"column:nonce"`
	GasUsed     uint64 `gorm:"column:gas_used"`
	Timestamp   int64  `gorm:"column:timestamp"`
}

func (transactionRow) TableName() string { return "transactions" }

// chainStateRow mirrors the single-row chain_state head pointer.
type chainStateRow struct {
	ID                int    `gorm:"column:id;primary_key"`
	HeadBlockNumber   uint64 `gorm:"column:head_block_number"`
	HeadBlockHash     []byte `gorm:"column:head_block_hash"`
	GenesisHash       []byte `gorm:"column:genesis_hash"`
	GenesisTimestamp  int64  `gorm:"column:genesis_timestamp"`
	BlockTimeSeconds  int64  `gorm:"column:block_time_seconds"`
	ValidatorCount    uint64 `gorm:"column:validator_count"`
	TotalBlocks       uint64 `gorm:"column:total_blocks"`
	TotalTransactions uint64 `gorm:"column:total_transactions"`
	UpdatedAt         int64  `gorm:"column:updated_at"`
}

func (chainStateRow) TableName() string { return "chain_state" }

// validatorRow mirrors the validators table.
type validatorRow struct {
	Address             []byte `gorm:"column:address;primary_key"`
	Active              bool   `gorm:"column:active"`
	BlocksProduced      uint64 `gorm:"column:blocks_produced"`
	LastBlockNumber     uint64 `gorm:"column:last_block_number"`
	LastBlockTimestamp  int64  `gorm:"column:last_block_timestamp"`
	RegisteredAt        int64  `gorm:"column:registered_at"`
	UpdatedAt           int64  `gorm:"column:updated_at"`
}

func (validatorRow) TableName() string { return "validators" }

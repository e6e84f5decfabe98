package source

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ReceiptType is the fuel receipt kind.
type ReceiptType string

const (
	ReceiptTypeCall     ReceiptType = "CALL"
	ReceiptTypeReturn   ReceiptType = "RETURN"
	ReceiptTypeLog      ReceiptType = "LOG"
	ReceiptTypeLogData  ReceiptType = "LOG_DATA"
	ReceiptTypeTransfer ReceiptType = "TRANSFER"
	ReceiptTypeMint     ReceiptType = "MINT"
	ReceiptTypeBurn     ReceiptType = "BURN"
)

// Receipt is one effect record of a successful transaction.
type Receipt struct {
	Type ReceiptType `json:"receiptType"`
	// Contract is the emitting contract id, nil for script receipts.
	Contract *string `json:"contract,omitempty"`
	// RB is the log id reference of LOG_DATA receipts.
	RB   string        `json:"rb,omitempty"`
	Data hexutil.Bytes `json:"data,omitempty"`
	TxID string        `json:"txId"`
}

// IsContractLog reports whether the receipt is a log emission from a contract.
func (r Receipt) IsContractLog() bool {
	return r.Type == ReceiptTypeLogData && r.Contract != nil && *r.Contract != ""
}

// Block is a block header with the receipts of its successful transactions in ledger order.
type Block struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
	// Time is unix seconds.
	Time     int64     `json:"time"`
	Receipts []Receipt `json:"receipts"`
}

// Source yields blocks in ascending height order.
type Source interface {
	// Fetch returns up to limit consecutive blocks starting at fromHeight.
	// An empty result means the source has no block at fromHeight yet.
	Fetch(ctx context.Context, fromHeight, limit uint64) ([]Block, error)

	// Close releases the source.
	Close() error
}

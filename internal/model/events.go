package model

import "math/big"

// Event names as declared in the tracking contract ABI.
const (
	EventPackageCreated       = "PackageCreated"
	EventStatusUpdated        = "StatusUpdated"
	EventTemperatureUpdated   = "TemperatureUpdated"
	EventOwnershipTransferred = "OwnershipTransferred"
)

// EventNames lists every event type the reconciler tracks, in a stable order.
var EventNames = []string{
	EventPackageCreated,
	EventStatusUpdated,
	EventTemperatureUpdated,
	EventOwnershipTransferred,
}

// EventMeta carries the log coordinates shared by every decoded event.
type EventMeta struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
}

// PackageCreated is the decoded creation event.
type PackageCreated struct {
	EventMeta
	PackageID   *big.Int `json:"package_id"`
	Creator     string   `json:"creator"`
	Description string   `json:"description"`
}

// StatusUpdated is the decoded status transition event.
type StatusUpdated struct {
	EventMeta
	PackageID *big.Int `json:"package_id"`
	NewStatus uint8    `json:"new_status"`
	UpdatedBy string   `json:"updated_by"`
}

// TemperatureUpdated is the decoded temperature reading event.
type TemperatureUpdated struct {
	EventMeta
	PackageID   *big.Int `json:"package_id"`
	Temperature *big.Int `json:"temperature"`
}

// OwnershipTransferred is the decoded custody hand-off event.
type OwnershipTransferred struct {
	EventMeta
	PackageID     *big.Int `json:"package_id"`
	PreviousOwner string   `json:"previous_owner"`
	NewOwner      string   `json:"new_owner"`
}

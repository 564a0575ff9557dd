package contract

import (
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"supplytrace/internal/model"
)

// Decoder converts raw log records into typed tracking events. Decoding is
// best-effort per log: a record whose topics or data don't match the ABI is
// logged and dropped, never failing the batch. One instance is shared between
// the reconcile and live-watch goroutines, so the drop counter is atomic.
type Decoder struct {
	abi    abi.ABI
	logger *zap.Logger

	dropped atomic.Uint64
}

// NewDecoder builds a decoder from the embedded tracking ABI.
func NewDecoder(logger *zap.Logger) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := TrackingABI()
	if err != nil {
		return nil, err
	}
	return &Decoder{abi: parsed, logger: logger}, nil
}

// Topic0 returns the signature hash for a tracked event name.
func (d *Decoder) Topic0(eventName string) (common.Hash, error) {
	event, ok := d.abi.Events[eventName]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event: %s", eventName)
	}
	return event.ID, nil
}

// Dropped returns how many logs have been discarded as undecodable.
func (d *Decoder) Dropped() uint64 {
	return d.dropped.Load()
}

// DecodeCreated decodes PackageCreated logs.
func (d *Decoder) DecodeCreated(logs []model.LogRecord) []model.PackageCreated {
	out := make([]model.PackageCreated, 0, len(logs))
	for _, log := range logs {
		event, err := d.decodeCreated(log)
		if err != nil {
			d.drop(model.EventPackageCreated, log, err)
			continue
		}
		out = append(out, event)
	}
	return out
}

// DecodeStatus decodes StatusUpdated logs.
func (d *Decoder) DecodeStatus(logs []model.LogRecord) []model.StatusUpdated {
	out := make([]model.StatusUpdated, 0, len(logs))
	for _, log := range logs {
		event, err := d.decodeStatus(log)
		if err != nil {
			d.drop(model.EventStatusUpdated, log, err)
			continue
		}
		out = append(out, event)
	}
	return out
}

// DecodeTemperature decodes TemperatureUpdated logs.
func (d *Decoder) DecodeTemperature(logs []model.LogRecord) []model.TemperatureUpdated {
	out := make([]model.TemperatureUpdated, 0, len(logs))
	for _, log := range logs {
		event, err := d.decodeTemperature(log)
		if err != nil {
			d.drop(model.EventTemperatureUpdated, log, err)
			continue
		}
		out = append(out, event)
	}
	return out
}

// DecodeTransfer decodes OwnershipTransferred logs.
func (d *Decoder) DecodeTransfer(logs []model.LogRecord) []model.OwnershipTransferred {
	out := make([]model.OwnershipTransferred, 0, len(logs))
	for _, log := range logs {
		event, err := d.decodeTransfer(log)
		if err != nil {
			d.drop(model.EventOwnershipTransferred, log, err)
			continue
		}
		out = append(out, event)
	}
	return out
}

func (d *Decoder) drop(eventName string, log model.LogRecord, err error) {
	d.dropped.Add(1)
	d.logger.Warn("drop undecodable log",
		zap.String("event", eventName),
		zap.Uint64("block_number", log.BlockNumber),
		zap.String("tx_hash", log.TxHash),
		zap.Uint64("log_index", log.LogIndex),
		zap.Error(err),
	)
}

func (d *Decoder) decodeCreated(log model.LogRecord) (model.PackageCreated, error) {
	event := d.abi.Events[model.EventPackageCreated]
	topics, err := parseTopics(event, log.Topics)
	if err != nil {
		return model.PackageCreated{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.PackageCreated{}, err
	}
	if len(values) != 1 {
		return model.PackageCreated{}, fmt.Errorf("unexpected created values: %d", len(values))
	}
	description, ok := values[0].(string)
	if !ok {
		return model.PackageCreated{}, fmt.Errorf("description is not a string")
	}

	return model.PackageCreated{
		EventMeta:   buildMeta(log),
		PackageID:   topicBigInt(topics[0]),
		Creator:     topicAddress(topics[1]),
		Description: description,
	}, nil
}

func (d *Decoder) decodeStatus(log model.LogRecord) (model.StatusUpdated, error) {
	event := d.abi.Events[model.EventStatusUpdated]
	topics, err := parseTopics(event, log.Topics)
	if err != nil {
		return model.StatusUpdated{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.StatusUpdated{}, err
	}
	if len(values) != 2 {
		return model.StatusUpdated{}, fmt.Errorf("unexpected status values: %d", len(values))
	}
	newStatus, ok := values[0].(uint8)
	if !ok {
		return model.StatusUpdated{}, fmt.Errorf("newStatus is not uint8")
	}
	if !model.Status(newStatus).Valid() {
		return model.StatusUpdated{}, fmt.Errorf("status out of range: %d", newStatus)
	}
	updatedBy, err := asAddress(values[1])
	if err != nil {
		return model.StatusUpdated{}, err
	}

	return model.StatusUpdated{
		EventMeta: buildMeta(log),
		PackageID: topicBigInt(topics[0]),
		NewStatus: newStatus,
		UpdatedBy: updatedBy,
	}, nil
}

func (d *Decoder) decodeTemperature(log model.LogRecord) (model.TemperatureUpdated, error) {
	event := d.abi.Events[model.EventTemperatureUpdated]
	topics, err := parseTopics(event, log.Topics)
	if err != nil {
		return model.TemperatureUpdated{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.TemperatureUpdated{}, err
	}
	if len(values) != 1 {
		return model.TemperatureUpdated{}, fmt.Errorf("unexpected temperature values: %d", len(values))
	}
	temperature, err := asBigInt(values[0])
	if err != nil {
		return model.TemperatureUpdated{}, err
	}

	return model.TemperatureUpdated{
		EventMeta:   buildMeta(log),
		PackageID:   topicBigInt(topics[0]),
		Temperature: temperature,
	}, nil
}

func (d *Decoder) decodeTransfer(log model.LogRecord) (model.OwnershipTransferred, error) {
	event := d.abi.Events[model.EventOwnershipTransferred]
	topics, err := parseTopics(event, log.Topics)
	if err != nil {
		return model.OwnershipTransferred{}, err
	}

	return model.OwnershipTransferred{
		EventMeta:     buildMeta(log),
		PackageID:     topicBigInt(topics[0]),
		PreviousOwner: topicAddress(topics[1]),
		NewOwner:      topicAddress(topics[2]),
	}, nil
}

func buildMeta(log model.LogRecord) model.EventMeta {
	return model.EventMeta{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Timestamp:   log.Timestamp,
	}
}

// parseTopics checks the topic count against the event's indexed arguments and
// returns the indexed topics (topic0 stripped).
func parseTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexed := 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed++
		}
	}
	if len(topics) != indexed+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexed+1, len(topics))
	}

	out := make([]common.Hash, 0, indexed)
	for _, topic := range topics[1:] {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func topicBigInt(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

func asAddress(value interface{}) (string, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return "", fmt.Errorf("value is not an address: %T", value)
	}
	return strings.ToLower(addr.Hex()), nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	parsed, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("value is not a big int: %T", value)
	}
	return parsed, nil
}

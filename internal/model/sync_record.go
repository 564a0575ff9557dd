package model

// SyncRecord is the per-contract reconciliation cache entry: the raw logs
// accumulated per event type and the highest block they cover. Losing it is
// harmless, the next run rescans from the configured deployment block.
type SyncRecord struct {
	LastReconciledBlock uint64                 `json:"last_reconciled_block"`
	LogsByEvent         map[string][]LogRecord `json:"logs_by_event"`
}

// NewSyncRecord returns an empty record with every tracked event type present.
func NewSyncRecord() *SyncRecord {
	logs := make(map[string][]LogRecord, len(EventNames))
	for _, name := range EventNames {
		logs[name] = nil
	}
	return &SyncRecord{LogsByEvent: logs}
}

// Merge appends new records to the per-type slices, skipping any log already
// present. Ranges are disjoint by construction, the key check only guards the
// cold-start early window overlapping the backfill.
func (r *SyncRecord) Merge(event string, records []LogRecord) {
	if len(records) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(r.LogsByEvent[event]))
	for _, existing := range r.LogsByEvent[event] {
		seen[existing.Key()] = struct{}{}
	}
	for _, record := range records {
		if _, ok := seen[record.Key()]; ok {
			continue
		}
		seen[record.Key()] = struct{}{}
		r.LogsByEvent[event] = append(r.LogsByEvent[event], record)
	}
}

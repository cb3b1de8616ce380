package ledger

import (
	"strconv"

	"goldchain/core/events"
	"goldchain/crypto"
)

const (
	// EventTypeInitialized is emitted once when the admin is recorded.
	EventTypeInitialized = "ledger.initialized"
	// EventTypeRecorded is emitted for every stored ledger.
	EventTypeRecorded = "ledger.recorded"
)

// NewInitializedEvent returns the canonical payload for initialisation.
func NewInitializedEvent(admin Identity) *events.Record {
	return &events.Record{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"admin": crypto.FormatIdentity(admin),
		},
	}
}

// NewRecordedEvent returns the canonical payload for a stored ledger.
func NewRecordedEvent(key Key, l *Ledger, position uint64) *events.Record {
	attrs := map[string]string{
		"key":   key.String(),
		"index": strconv.FormatUint(position, 10),
	}
	if l != nil {
		attrs["trackingId"] = l.TrackingID
		attrs["lotId"] = l.LotID
		attrs["recordedAt"] = strconv.FormatUint(l.RecordedAt, 10)
	}
	return &events.Record{Type: EventTypeRecorded, Attributes: attrs}
}

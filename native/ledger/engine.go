package ledger

import (
	"goldchain/core/events"
)

// Engine implements the contract surface: a one-shot initialisation that fixes
// the admin, admin-only insertion of immutable records and unrestricted reads.
// The engine holds no locks; the host serialises calls and supplies the
// caller and timestamp through Env.
type Engine struct {
	config  *ConfigStore
	ledgers *Store
	emitter events.Emitter
}

// NewEngine constructs an engine backed by the provided storage backend with
// a no-op emitter.
func NewEngine(store storage) *Engine {
	if store == nil {
		return &Engine{emitter: events.NoopEmitter{}}
	}
	return &Engine{
		config:  NewConfigStore(store),
		ledgers: NewStore(store),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.config == nil || e.ledgers == nil {
		return ErrStateUnavailable
	}
	return nil
}

// Initialize records env.Caller as the admin. Only the first call succeeds.
func (e *Engine) Initialize(env Env) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.config.Initialize(env.Caller); err != nil {
		return err
	}
	e.emit(NewInitializedEvent(env.Caller))
	return nil
}

// AddLedger stores a new record for (trackingID, lotID) stamped with
// env.Timestamp. Any failure leaves the store untouched.
func (e *Engine) AddLedger(env Env, trackingID, lotID string) (*Ledger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.config.RequireInitialized(); err != nil {
		return nil, err
	}
	if err := validateFields(trackingID, lotID); err != nil {
		return nil, err
	}
	if err := e.config.RequireAdmin(env.Caller); err != nil {
		return nil, err
	}
	key := DeriveKey(trackingID, lotID)
	exists, err := e.ledgers.Has(key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrLedgerAlreadyExists
	}
	position, err := e.ledgers.Len()
	if err != nil {
		return nil, err
	}
	record := &Ledger{
		TrackingID: trackingID,
		LotID:      lotID,
		RecordedAt: env.Timestamp,
	}
	if err := e.ledgers.Insert(key, record); err != nil {
		return nil, err
	}
	e.emit(NewRecordedEvent(key, record, position))
	return record, nil
}

// GetLedger returns the record stored for the exact (trackingID, lotID) pair.
// Pairs whose concatenation matches a stored pair share its key but are not
// reported as found.
func (e *Engine) GetLedger(trackingID, lotID string) (*Ledger, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	record, ok, err := e.ledgers.Get(DeriveKey(trackingID, lotID))
	if err != nil || !ok {
		return nil, false, err
	}
	if record.TrackingID != trackingID || record.LotID != lotID {
		return nil, false, nil
	}
	return record, true, nil
}

// GetLedgerByKey returns the record stored under a derived key.
func (e *Engine) GetLedgerByKey(key Key) (*Ledger, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.ledgers.Get(key)
}

// GetAllLedgers returns every stored record in insertion order.
func (e *Engine) GetAllLedgers() ([]*Ledger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ledgers.GetAll()
}

// GetConfig returns the admin configuration when initialised.
func (e *Engine) GetConfig() (*Config, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.config.Get()
}

// Count returns the number of stored records.
func (e *Engine) Count() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.ledgers.Len()
}

// Verify audits the key index against the record mapping.
func (e *Engine) Verify() error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.ledgers.Verify()
}

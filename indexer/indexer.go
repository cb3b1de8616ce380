package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"goldchain/core/events"
	"goldchain/native/ledger"
	"goldchain/observability"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var (
	// ErrInvalidFilter marks search parameters outside the accepted ranges.
	ErrInvalidFilter = errors.New("indexer: invalid filter")
	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("indexer: unsupported driver")
)

// Entry is an indexed ledger record together with its index position.
type Entry struct {
	Key        string
	Position   uint64
	TrackingID string
	LotID      string
	RecordedAt uint64
}

// Filter narrows a search. Zero values are ignored; To is inclusive.
type Filter struct {
	TrackingID string
	LotID      string
	From       uint64
	To         uint64
	Limit      int
	Offset     int
}

func (f *Filter) normalize() error {
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidFilter)
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		return fmt.Errorf("%w: limit exceeds %d", ErrInvalidFilter, MaxLimit)
	}
	if f.To != 0 && f.From > f.To {
		return fmt.Errorf("%w: from after to", ErrInvalidFilter)
	}
	return nil
}

// Source returns the full committed enumeration, used to repair the mirror.
type Source func(ctx context.Context) ([]*ledger.Ledger, error)

// Indexer maintains an off-chain SQL mirror of committed ledgers for
// filtered queries. Writes are idempotent on the derived key.
//
// Positions arrive in order, so a recorded event ahead of the next expected
// position means events were dropped upstream. The indexer then re-runs the
// backfill from the configured Source.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu     sync.Mutex
	next   uint64
	resync Source
}

// Open connects to the configured driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: slog.Default(), nowFn: time.Now}, nil
}

// SetLogger replaces the logger used by Run.
func (i *Indexer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		i.logger = logger
	}
}

// SetResync installs the source used to backfill after a position gap.
func (i *Indexer) SetResync(src Source) {
	i.mu.Lock()
	i.resync = src
	i.mu.Unlock()
}

func (i *Indexer) advance(next uint64) {
	i.mu.Lock()
	if next > i.next {
		i.next = next
	}
	i.mu.Unlock()
}

// missing reports how many positions were skipped before position.
func (i *Indexer) missing(position uint64) (uint64, Source) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if position <= i.next {
		return 0, i.resync
	}
	return position - i.next, i.resync
}

// Upsert stores entry unless its key is already indexed.
func (i *Indexer) Upsert(ctx context.Context, entry Entry) error {
	row := LedgerRow{
		Key:        entry.Key,
		Position:   entry.Position,
		TrackingID: entry.TrackingID,
		LotID:      entry.LotID,
		RecordedAt: entry.RecordedAt,
		IndexedAt:  i.nowFn().UTC(),
	}
	err := i.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ledger_key"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("indexer: upsert %s: %w", entry.Key, err)
	}
	return nil
}

// Backfill indexes records in enumeration order; positions follow the slice.
func (i *Indexer) Backfill(ctx context.Context, records []*ledger.Ledger) error {
	for pos, record := range records {
		if record == nil {
			continue
		}
		entry := Entry{
			Key:        record.Key().String(),
			Position:   uint64(pos),
			TrackingID: record.TrackingID,
			LotID:      record.LotID,
			RecordedAt: record.RecordedAt,
		}
		if err := i.Upsert(ctx, entry); err != nil {
			return err
		}
	}
	i.advance(uint64(len(records)))
	return nil
}

// Apply indexes a committed ledger.recorded event; other events are ignored.
func (i *Indexer) Apply(ctx context.Context, evt events.Event) error {
	record, ok := evt.(*events.Record)
	if !ok || record.Type != ledger.EventTypeRecorded {
		return nil
	}
	entry, err := entryFromEvent(record)
	if err != nil {
		return err
	}
	if missing, src := i.missing(entry.Position); missing > 0 {
		observability.Events().RecordGap("indexer", missing)
		i.logger.Warn("indexer missed ledger events",
			slog.String("component", "indexer"),
			slog.Uint64("missing", missing),
			slog.Uint64("position", entry.Position))
		if src != nil {
			records, err := src(ctx)
			if err != nil {
				return fmt.Errorf("indexer: resync: %w", err)
			}
			if err := i.Backfill(ctx, records); err != nil {
				return err
			}
		}
	}
	if err := i.Upsert(ctx, entry); err != nil {
		return err
	}
	i.advance(entry.Position + 1)
	return nil
}

func entryFromEvent(record *events.Record) (Entry, error) {
	position, err := strconv.ParseUint(record.Attr("index"), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("indexer: event index: %w", err)
	}
	recordedAt, err := strconv.ParseUint(record.Attr("recordedAt"), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("indexer: event recordedAt: %w", err)
	}
	key := record.Attr("key")
	if _, err := ledger.ParseKey(key); err != nil {
		return Entry{}, fmt.Errorf("indexer: event key: %w", err)
	}
	return Entry{
		Key:        key,
		Position:   position,
		TrackingID: record.Attr("trackingId"),
		LotID:      record.Attr("lotId"),
		RecordedAt: recordedAt,
	}, nil
}

// Run applies events from stream until it closes or ctx is cancelled.
func (i *Indexer) Run(ctx context.Context, stream <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := i.Apply(ctx, evt); err != nil {
				i.logger.Error("index ledger event",
					slog.String("component", "indexer"),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Search returns matching entries ordered by index position.
func (i *Indexer) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}
	query := i.db.WithContext(ctx).Model(&LedgerRow{})
	if filter.TrackingID != "" {
		query = query.Where("tracking_id = ?", filter.TrackingID)
	}
	if filter.LotID != "" {
		query = query.Where("lot_id = ?", filter.LotID)
	}
	if filter.From != 0 {
		query = query.Where("recorded_at >= ?", filter.From)
	}
	if filter.To != 0 {
		query = query.Where("recorded_at <= ?", filter.To)
	}
	var rows []LedgerRow
	if err := query.Order("position ASC").Limit(filter.Limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: search: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{
			Key:        row.Key,
			Position:   row.Position,
			TrackingID: row.TrackingID,
			LotID:      row.LotID,
			RecordedAt: row.RecordedAt,
		})
	}
	return out, nil
}

// Count returns the number of indexed records.
func (i *Indexer) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := i.db.WithContext(ctx).Model(&LedgerRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

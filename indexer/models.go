package indexer

import (
	"time"

	"gorm.io/gorm"
)

// LedgerRow mirrors one committed ledger record.
type LedgerRow struct {
	Key        string `gorm:"column:ledger_key;primaryKey;size:66"`
	Position   uint64 `gorm:"uniqueIndex"`
	TrackingID string `gorm:"index;size:256;not null"`
	LotID      string `gorm:"index;size:256;not null"`
	RecordedAt uint64 `gorm:"index;not null"`
	IndexedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation.
func (LedgerRow) TableName() string { return "ledgers" }

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LedgerRow{})
}

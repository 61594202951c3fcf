package storage

import "time"

// EntryModel is the GORM row for one stored key.
type EntryModel struct {
	Key       string    `gorm:"column:entry_key;primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName pins the table name independent of naming strategy.
func (EntryModel) TableName() string { return "kv_entries" }

package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Material{}, &MaterialHistory{},
		&InwardReceiptEvent{}, &OutwardIssueEvent{},
		&LedgerEntry{},
		&IssueRecord{}, &IssueProduct{}, &IssueMaterialLine{},
		&ReceiptRecord{}, &ReceiptProductLine{},
		&DamagedStockEntry{}, &WIPWriteOff{},
		&LedgerAnomaly{},
	)
}

package workflow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// newTestEngine returns an engine over a private in-memory SQLite database.
func newTestEngine(t *testing.T) *StockEngine {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e := NewStockEngine(db, logger, NewMemoryMaterialLocker(), time.UTC)
	e.Now = func() time.Time { return testNow }
	return e
}

func testCtx() context.Context {
	return utils.SetActorInContext(context.Background(), "tester")
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	day, err := utils.ParseDay(s, time.UTC)
	if err != nil {
		t.Fatalf("ParseDay(%q): %v", s, err)
	}
	return day
}

func mustMaterial(t *testing.T, e *StockEngine, name string, onHand string) *models.Material {
	t.Helper()
	m, err := e.CreateMaterial(testCtx(), &models.NewMaterial{Name: name, Unit: "pcs", OnHandQty: d(onHand)})
	if err != nil {
		t.Fatalf("CreateMaterial(%s): %v", name, err)
	}
	return m
}

func reloadMaterial(t *testing.T, e *StockEngine, id int) *models.Material {
	t.Helper()
	m, err := models.GetMaterial(e.DB, id)
	if err != nil {
		t.Fatalf("GetMaterial(%d): %v", id, err)
	}
	return m
}

func mustReceive(t *testing.T, e *StockEngine, sourceId string, materialId int, qty string, at time.Time) {
	t.Helper()
	_, err := e.ApplyGoodsReceipt(testCtx(), GoodsReceipt{
		SourceEventId: sourceId,
		MaterialId:    materialId,
		Quantity:      d(qty),
		Status:        models.InwardEventStatusApproved,
		EventTime:     at,
	})
	if err != nil {
		t.Fatalf("ApplyGoodsReceipt(%s): %v", sourceId, err)
	}
}

// singleProductIssue sends sent of one material for a product of units cartons.
func singleProductIssue(t *testing.T, e *StockEngine, class models.DestinationClass, materialId int, units string, sent string, at time.Time) *models.IssueRecord {
	t.Helper()
	issue, err := e.CreateIssue(testCtx(), &NewIssueRecord{
		DestinationClass: class,
		DestinationName:  "Line A",
		IssueDate:        at,
		Products: []NewIssueProduct{{
			ProductId:   1,
			ProductName: "Carton box",
			UnitsIssued: d(units),
			Materials:   []NewIssueMaterialLine{{MaterialId: materialId, TotalQuantityIssued: d(sent)}},
		}},
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	return issue
}

func ledgerRows(t *testing.T, e *StockEngine, materialId int) []*models.LedgerEntry {
	t.Helper()
	rows, err := models.ListLedgerEntries(e.DB, materialId, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	return rows
}

func countAnomalies(t *testing.T, e *StockEngine, materialId int, anomalyType models.AnomalyType) int {
	t.Helper()
	rows, err := models.ListLedgerAnomalies(e.DB, models.AnomalyFilter{MaterialId: materialId, AnomalyType: anomalyType})
	if err != nil {
		t.Fatalf("ListLedgerAnomalies: %v", err)
	}
	return len(rows)
}

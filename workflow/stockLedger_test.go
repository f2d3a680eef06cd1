package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
)

type ledgerRow struct {
	day     string
	opening string
	inward  string
	outward string
	closing string
}

func assertLedger(t *testing.T, e *StockEngine, materialId int, want []ledgerRow) {
	t.Helper()
	rows := ledgerRows(t, e, materialId)
	if len(rows) != len(want) {
		t.Fatalf("ledger rows = %d, want %d", len(rows), len(want))
	}
	for i, w := range want {
		r := rows[i]
		if utils.FormatDay(r.EntryDate) != w.day ||
			!r.OpeningStock.Equal(d(w.opening)) || !r.InwardQty.Equal(d(w.inward)) ||
			!r.OutwardQty.Equal(d(w.outward)) || !r.ClosingStock.Equal(d(w.closing)) {
			t.Fatalf("row %d = %s %s/%s/%s/%s, want %+v", i, utils.FormatDay(r.EntryDate),
				r.OpeningStock, r.InwardQty, r.OutwardQty, r.ClosingStock, w)
		}
	}
}

// setupChain: on-hand 100, +20 on Mar 1, -30 and +5 on Mar 3.
func setupChain(t *testing.T) (*StockEngine, *models.Material) {
	t.Helper()
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Tape", "100")
	mustReceive(t, e, "gr-1", m.ID, "20", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "30", time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	mustReceive(t, e, "gr-2", m.ID, "5", time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC))
	return e, m
}

func TestPostingBuildsDailyChain(t *testing.T) {
	e, m := setupChain(t)
	assertLedger(t, e, m.ID, []ledgerRow{
		{"2026-03-01", "100", "20", "0", "120"},
		{"2026-03-03", "120", "5", "30", "95"},
	})
	if got := reloadMaterial(t, e, m.ID).OnHandQty; !got.Equal(d("95")) {
		t.Fatalf("on hand = %s, want 95", got)
	}
}

func TestRecomputeHistoryIsIdempotent(t *testing.T) {
	e, m := setupChain(t)
	rows := ledgerRows(t, e, m.ID)
	if err := models.UpdateLedgerOpening(e.DB, rows[1].ID, d("7")); err != nil {
		t.Fatalf("corrupt opening: %v", err)
	}

	want := []ledgerRow{
		{"2026-03-01", "100", "20", "0", "120"},
		{"2026-03-03", "120", "5", "30", "95"},
	}
	for run := 0; run < 2; run++ {
		summary, err := e.RecomputeHistory(testCtx(), &m.ID)
		if err != nil {
			t.Fatalf("RecomputeHistory run %d: %v", run, err)
		}
		if len(summary.Materials) != 1 || summary.Materials[0].Days != 2 {
			t.Fatalf("summary = %+v", summary.Materials)
		}
		if !summary.Materials[0].Drift().IsZero() {
			t.Fatalf("drift = %s, want 0", summary.Materials[0].Drift())
		}
		assertLedger(t, e, m.ID, want)
	}
}

func TestBackdatedPostingTriggersRecompute(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Foam", "50")
	mustReceive(t, e, "gr-late", m.ID, "10", time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-05", "50", "10", "0", "60"}})

	mustReceive(t, e, "gr-early", m.ID, "4", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	assertLedger(t, e, m.ID, []ledgerRow{
		{"2026-03-02", "50", "4", "0", "54"},
		{"2026-03-05", "54", "10", "0", "64"},
	})
}

func TestRecomputeClampsNegativeOpeningAndFlagsIt(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Strap", "0")
	// An inward event that never reached on-hand leaves the log inconsistent.
	orphaned := &models.InwardReceiptEvent{
		SourceEventId: "gr-lost",
		MaterialId:    m.ID,
		Quantity:      d("10"),
		Status:        models.InwardEventStatusApproved,
		EventTime:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		StockDate:     mustDay(t, "2026-03-01"),
	}
	if err := e.DB.Create(orphaned).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}

	for run := 0; run < 2; run++ {
		summary, err := e.RecomputeHistory(testCtx(), &m.ID)
		if err != nil {
			t.Fatalf("RecomputeHistory: %v", err)
		}
		if summary.Anomalies != 1 {
			t.Fatalf("anomalies = %d, want 1", summary.Anomalies)
		}
	}
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-01", "0", "10", "0", "10"}})

	anomalies, err := e.ListAnomalies(testCtx(), models.AnomalyFilter{MaterialId: m.ID})
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].AnomalyType != models.AnomalyTypeNegativeClamp {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if anomalies[0].Occurrences != 2 || !anomalies[0].RawValue.Equal(d("-10")) {
		t.Fatalf("occurrences = %d raw = %s", anomalies[0].Occurrences, anomalies[0].RawValue)
	}
}

func TestRecomputeAllRecordsOrphanEvents(t *testing.T) {
	e := newTestEngine(t)
	mustMaterial(t, e, "Label", "5")
	orphan := &models.InwardReceiptEvent{
		SourceEventId: "gr-ghost",
		MaterialId:    999,
		Quantity:      d("3"),
		Status:        models.InwardEventStatusApproved,
		EventTime:     testNow,
		StockDate:     mustDay(t, "2026-03-10"),
	}
	if err := e.DB.Create(orphan).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	summary, err := e.RecomputeHistory(testCtx(), nil)
	if err != nil {
		t.Fatalf("RecomputeHistory: %v", err)
	}
	if summary.OrphanEvents != 1 {
		t.Fatalf("orphan events = %d, want 1", summary.OrphanEvents)
	}
	if n := countAnomalies(t, e, 999, models.AnomalyTypeUnknownMaterial); n != 1 {
		t.Fatalf("unknown material anomalies = %d, want 1", n)
	}
}

func TestRecomputeUnknownMaterial(t *testing.T) {
	e := newTestEngine(t)
	id := 42
	if _, err := e.RecomputeHistory(testCtx(), &id); !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCaptureWritesOnlyItsOwnField(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Glue", "40")
	day := mustDay(t, "2026-03-10")

	res, err := e.CaptureOpening(testCtx(), day)
	if err != nil {
		t.Fatalf("CaptureOpening: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-10", "40", "0", "0", "40"}})

	entry := ledgerRows(t, e, m.ID)[0]
	if err := models.UpdateLedgerClosing(e.DB, entry.ID, d("999")); err != nil {
		t.Fatalf("UpdateLedgerClosing: %v", err)
	}
	res, err = e.CaptureOpening(testCtx(), day)
	if err != nil {
		t.Fatalf("CaptureOpening again: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Fatalf("result = %+v", res)
	}
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-10", "40", "0", "0", "999"}})

	if err := models.UpdateLedgerOpening(e.DB, entry.ID, d("7")); err != nil {
		t.Fatalf("UpdateLedgerOpening: %v", err)
	}
	if _, err := e.CaptureClosing(testCtx(), day); err != nil {
		t.Fatalf("CaptureClosing: %v", err)
	}
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-10", "7", "0", "0", "40"}})
}

func TestCaptureOpeningChainsFromPreviousDay(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Ink", "12")
	for _, day := range []string{"2026-03-08", "2026-03-09"} {
		if _, err := e.CaptureOpening(testCtx(), mustDay(t, day)); err != nil {
			t.Fatalf("CaptureOpening(%s): %v", day, err)
		}
		if _, err := e.CaptureClosing(testCtx(), mustDay(t, day)); err != nil {
			t.Fatalf("CaptureClosing(%s): %v", day, err)
		}
	}
	rows := ledgerRows(t, e, m.ID)
	for i, r := range rows {
		if !r.ClosingStock.Equal(r.OpeningStock) {
			t.Fatalf("row %d without events: opening %s closing %s", i, r.OpeningStock, r.ClosingStock)
		}
		if i > 0 && !r.OpeningStock.Equal(rows[i-1].ClosingStock) {
			t.Fatalf("row %d opening %s != previous closing %s", i, r.OpeningStock, rows[i-1].ClosingStock)
		}
	}
}

func TestReportRange(t *testing.T) {
	e, m := setupChain(t)
	cases := []struct {
		name    string
		start   string
		end     string
		opening string
		inward  string
		outward string
		source  string
	}{
		{"after first entry", "2026-03-02", "2026-03-04", "120", "5", "30", OpeningSourceLedger},
		{"before any entry", "2026-02-01", "2026-03-02", "100", "20", "0", OpeningSourceBootstrap},
		{"end is exclusive", "2026-03-01", "2026-03-03", "100", "20", "0", OpeningSourceBootstrap},
	}
	for _, tc := range cases {
		r, err := e.ReportRange(testCtx(), m.ID, mustDay(t, tc.start), mustDay(t, tc.end))
		if err != nil {
			t.Fatalf("%s: ReportRange: %v", tc.name, err)
		}
		if !r.Opening.Equal(d(tc.opening)) || !r.Inward.Equal(d(tc.inward)) || !r.Outward.Equal(d(tc.outward)) {
			t.Fatalf("%s: got %s/%s/%s, want %s/%s/%s", tc.name, r.Opening, r.Inward, r.Outward, tc.opening, tc.inward, tc.outward)
		}
		if r.OpeningSource != tc.source {
			t.Fatalf("%s: opening source = %s, want %s", tc.name, r.OpeningSource, tc.source)
		}
		if !r.Closing.Equal(d("95")) {
			t.Fatalf("%s: closing = %s, want live on hand 95", tc.name, r.Closing)
		}
	}

	if _, err := e.ReportRange(testCtx(), m.ID, mustDay(t, "2026-03-05"), mustDay(t, "2026-03-01")); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("reversed range err = %v", err)
	}
	if _, err := e.ReportRange(testCtx(), 999, mustDay(t, "2026-03-01"), mustDay(t, "2026-03-05")); !IsNotFound(err) {
		t.Fatalf("unknown material err = %v", err)
	}
}

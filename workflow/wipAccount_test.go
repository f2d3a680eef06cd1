package workflow

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/packing_backend/models"
)

func TestWriteOffVarianceBounds(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Carton", "100")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)
	res, err := receiveUnits(e, issue.ID, 1, "1", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("3")})
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	assertBalances(t, e, m.ID, "90", "5", "0", "5")
	damagedId := res.Damaged[0].ID
	issueId := issue.ID

	cases := []struct {
		name  string
		input NewWriteOff
		want  error
	}{
		{"zero quantity", NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("0"), Reason: "torn"}, ErrInvalidQuantity},
		{"missing reason", NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("1")}, ErrReasonRequired},
		{"above outstanding", NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("6"), Reason: "lost"}, ErrWriteOffExceedsOutstanding},
		{"wrong class", NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, DestinationClass: models.DestinationClassJobber, Quantity: d("1"), Reason: "lost"}, ErrInvalidDestination},
		{"damage not approved", NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("3"), Reason: "torn", DamagedStockEntryId: &damagedId}, ErrDamageNotApproved},
	}
	for _, tc := range cases {
		input := tc.input
		if _, err := e.WriteOffVariance(testCtx(), &input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	if _, err := e.ApproveDamage(testCtx(), damagedId, ""); err != nil {
		t.Fatalf("ApproveDamage: %v", err)
	}
	writeOff, err := e.WriteOffVariance(testCtx(), &NewWriteOff{
		IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("3"), Reason: "torn", DamagedStockEntryId: &damagedId,
	})
	if err != nil {
		t.Fatalf("WriteOffVariance: %v", err)
	}
	if writeOff.DestinationClass != models.DestinationClassOwnUnit || writeOff.Actor != "tester" {
		t.Fatalf("write-off = %+v", writeOff)
	}
	after := reloadMaterial(t, e, m.ID)
	if !after.OwnUnitWIP.Equal(d("2")) || !after.WrittenOffQty.Equal(d("3")) {
		t.Fatalf("after write-off own WIP %s written off %s", after.OwnUnitWIP, after.WrittenOffQty)
	}
	if !after.TrackedTotal().Equal(d("100")) {
		t.Fatalf("tracked total = %s, want 100", after.TrackedTotal())
	}

	_, err = e.WriteOffVariance(testCtx(), &NewWriteOff{
		IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("1"), Reason: "torn", DamagedStockEntryId: &damagedId,
	})
	if !errors.Is(err, ErrDamageAlreadyWrittenOff) {
		t.Fatalf("second write-off of the entry err = %v", err)
	}

	// Receiving the last carton would consume 5 more, but only 2 remain unwritten.
	if _, err := receiveUnits(e, issue.ID, 1, "1"); !errors.Is(err, ErrUsageExceedsWriteOff) {
		t.Fatalf("receipt after write-off err = %v", err)
	}

	lines, err := e.OutstandingWIP(testCtx(), m.ID)
	if err != nil {
		t.Fatalf("OutstandingWIP: %v", err)
	}
	if len(lines) != 1 || !lines[0].Outstanding.Equal(d("2")) || *lines[0].IssueRecordId != issue.ID {
		t.Fatalf("outstanding = %+v", lines)
	}
}

func TestDirectIssueWriteOffPool(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Twine", "20")
	_, err := e.ApplyMaterialIssued(testCtx(), MaterialIssued{
		SourceEventId:    "mi-1",
		MaterialId:       m.ID,
		Quantity:         d("8"),
		DestinationClass: models.DestinationClassJobber,
		EventTime:        testNow,
	})
	if err != nil {
		t.Fatalf("ApplyMaterialIssued: %v", err)
	}
	assertBalances(t, e, m.ID, "12", "0", "8", "0")

	_, err = e.WriteOffVariance(testCtx(), &NewWriteOff{MaterialId: m.ID, DestinationClass: models.DestinationClassOwnUnit, Quantity: d("1"), Reason: "lost"})
	if !errors.Is(err, ErrWriteOffExceedsOutstanding) {
		t.Fatalf("own-unit pool err = %v", err)
	}
	_, err = e.WriteOffVariance(testCtx(), &NewWriteOff{MaterialId: m.ID, DestinationClass: models.DestinationClassJobber, Quantity: d("9"), Reason: "lost"})
	if !errors.Is(err, ErrWriteOffExceedsOutstanding) {
		t.Fatalf("jobber over pool err = %v", err)
	}
	if _, err := e.WriteOffVariance(testCtx(), &NewWriteOff{MaterialId: m.ID, DestinationClass: models.DestinationClassJobber, Quantity: d("8"), Reason: "consumed off-book"}); err != nil {
		t.Fatalf("WriteOffVariance: %v", err)
	}
	split, err := e.WIPSplit(testCtx(), m.ID)
	if err != nil {
		t.Fatalf("WIPSplit: %v", err)
	}
	if !split.JobberWIP.IsZero() || !split.WrittenOffQty.Equal(d("8")) || !split.TrackedTotal.Equal(d("20")) {
		t.Fatalf("split = %+v", split)
	}
}

func TestReconcileWIPFlagsMismatch(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Sleeve", "30")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)
	if _, err := receiveUnits(e, issue.ID, 1, "1"); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	results, err := e.ReconcileWIP(testCtx(), &m.ID)
	if err != nil {
		t.Fatalf("ReconcileWIP: %v", err)
	}
	for _, r := range results {
		if !r.Difference.IsZero() {
			t.Fatalf("unexpected difference %+v", r)
		}
	}
	if n := countAnomalies(t, e, m.ID, models.AnomalyTypeWIPMismatch); n != 0 {
		t.Fatalf("anomalies = %d, want 0", n)
	}

	drifted := reloadMaterial(t, e, m.ID)
	drifted.OwnUnitWIP = d("7")
	if err := models.SaveMaterialBalances(e.DB, drifted); err != nil {
		t.Fatalf("SaveMaterialBalances: %v", err)
	}
	results, err = e.ReconcileWIP(testCtx(), nil)
	if err != nil {
		t.Fatalf("ReconcileWIP all: %v", err)
	}
	found := false
	for _, r := range results {
		if r.DestinationClass == models.DestinationClassOwnUnit && r.MaterialId == m.ID {
			found = r.Difference.Equal(d("2"))
		}
	}
	if !found {
		t.Fatalf("own-unit difference not reported: %+v", results)
	}
	if n := countAnomalies(t, e, m.ID, models.AnomalyTypeWIPMismatch); n != 1 {
		t.Fatalf("anomalies = %d, want 1", n)
	}
}

func TestCancelIssue(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Lid", "100")
	issue := singleProductIssue(t, e, models.DestinationClassJobber, m.ID, "2", "10", testNow)
	res, err := receiveUnits(e, issue.ID, 1, "1")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := e.CancelIssue(testCtx(), issue.ID, "wrong jobber"); !errors.Is(err, ErrIssueHasReceipts) {
		t.Fatalf("cancel with receipts err = %v", err)
	}
	if _, err := e.CancelReceipt(testCtx(), res.Receipt.ID, "wrong jobber"); err != nil {
		t.Fatalf("CancelReceipt: %v", err)
	}
	cancelled, err := e.CancelIssue(testCtx(), issue.ID, "wrong jobber")
	if err != nil {
		t.Fatalf("CancelIssue: %v", err)
	}
	if cancelled.Status != models.IssueStatusCancelled || cancelled.CancelledBy != "tester" {
		t.Fatalf("issue = %+v", cancelled)
	}
	assertBalances(t, e, m.ID, "100", "0", "0", "0")
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-10", "100", "0", "0", "100"}})

	if _, err := receiveUnits(e, issue.ID, 1, "1"); !errors.Is(err, ErrIssueCancelled) {
		t.Fatalf("receipt on cancelled issue err = %v", err)
	}
	if _, err := e.CancelIssue(testCtx(), issue.ID, "again"); !errors.Is(err, ErrIssueCancelled) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestCancelIssueKeepsWrittenOffOutward(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Sleeve", "100")
	if _, err := e.CaptureOpening(testCtx(), mustDay(t, "2026-03-09")); err != nil {
		t.Fatalf("CaptureOpening: %v", err)
	}
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)
	issueId := issue.ID
	if _, err := e.WriteOffVariance(testCtx(), &NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("3"), Reason: "lost"}); err != nil {
		t.Fatalf("WriteOffVariance: %v", err)
	}
	if _, err := e.CancelIssue(testCtx(), issue.ID, "line stopped"); err != nil {
		t.Fatalf("CancelIssue: %v", err)
	}
	got := reloadMaterial(t, e, m.ID)
	if !got.OnHandQty.Equal(d("97")) || !got.OwnUnitWIP.IsZero() || !got.WrittenOffQty.Equal(d("3")) {
		t.Fatalf("balances = on_hand %s own %s written_off %s", got.OnHandQty, got.OwnUnitWIP, got.WrittenOffQty)
	}
	if !got.TrackedTotal().Equal(d("100")) {
		t.Fatalf("tracked total = %s, want 100", got.TrackedTotal())
	}
	assertLedger(t, e, m.ID, []ledgerRow{
		{"2026-03-09", "100", "0", "0", "100"},
		{"2026-03-10", "100", "0", "3", "97"},
	})
	materialId := m.ID
	if _, err := e.RecomputeHistory(testCtx(), &materialId); err != nil {
		t.Fatalf("RecomputeHistory: %v", err)
	}
	assertLedger(t, e, m.ID, []ledgerRow{
		{"2026-03-09", "100", "0", "0", "100"},
		{"2026-03-10", "100", "0", "3", "97"},
	})
}

func TestCreateIssueValidation(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Bag", "5")
	cases := []struct {
		name  string
		input NewIssueRecord
		want  error
	}{
		{"bad destination", NewIssueRecord{DestinationClass: "Warehouse", Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("1"), Materials: []NewIssueMaterialLine{{MaterialId: m.ID, TotalQuantityIssued: d("1")}}}}}, ErrInvalidDestination},
		{"not enough stock", NewIssueRecord{DestinationClass: models.DestinationClassOwnUnit, Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("1"), Materials: []NewIssueMaterialLine{{MaterialId: m.ID, TotalQuantityIssued: d("6")}}}}}, ErrInsufficientStock},
		{"unknown material", NewIssueRecord{DestinationClass: models.DestinationClassOwnUnit, Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("1"), Materials: []NewIssueMaterialLine{{MaterialId: 404, TotalQuantityIssued: d("1")}}}}}, ErrUnknownMaterial},
		{"zero units", NewIssueRecord{DestinationClass: models.DestinationClassOwnUnit, Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("0"), Materials: []NewIssueMaterialLine{{MaterialId: m.ID, TotalQuantityIssued: d("1")}}}}}, ErrInvalidQuantity},
		{"duplicate product", NewIssueRecord{DestinationClass: models.DestinationClassOwnUnit, Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("1"), Materials: []NewIssueMaterialLine{{MaterialId: m.ID, TotalQuantityIssued: d("1")}}},
			{ProductId: 1, UnitsIssued: d("1"), Materials: []NewIssueMaterialLine{{MaterialId: m.ID, TotalQuantityIssued: d("1")}}}}}, ErrDuplicateLine},
	}
	for _, tc := range cases {
		input := tc.input
		if _, err := e.CreateIssue(testCtx(), &input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	assertBalances(t, e, m.ID, "5", "0", "0", "0")
	if rows := ledgerRows(t, e, m.ID); len(rows) != 0 {
		t.Fatalf("ledger rows after rejected issues = %d", len(rows))
	}
}

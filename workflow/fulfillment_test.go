package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/shopspring/decimal"
)

func receiveUnits(e *StockEngine, issueId int, productId int, units string, damaged ...NewDamagedLine) (*ReceiptResult, error) {
	return e.AcceptReceipt(testCtx(), &NewReceipt{
		IssueRecordId: issueId,
		ReceivedDate:  testNow,
		Lines:         []NewReceiptLine{{ProductId: productId, ReceivedUnits: d(units)}},
		Damaged:       damaged,
	})
}

func assertBalances(t *testing.T, e *StockEngine, id int, onHand, ownWIP, jobberWIP, consumed string) {
	t.Helper()
	m := reloadMaterial(t, e, id)
	if !m.OnHandQty.Equal(d(onHand)) || !m.OwnUnitWIP.Equal(d(ownWIP)) ||
		!m.JobberWIP.Equal(d(jobberWIP)) || !m.ConsumedQty.Equal(d(consumed)) {
		t.Fatalf("balances = on_hand %s own %s jobber %s consumed %s, want %s %s %s %s",
			m.OnHandQty, m.OwnUnitWIP, m.JobberWIP, m.ConsumedQty, onHand, ownWIP, jobberWIP, consumed)
	}
}

func TestTwoPartialReceiptsCompleteTheIssue(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Shrink film", "100")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)
	assertBalances(t, e, m.ID, "90", "10", "0", "0")

	first, err := receiveUnits(e, issue.ID, 1, "1")
	if err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	assertBalances(t, e, m.ID, "90", "5", "0", "5")
	if first.Fulfillment.Status != models.IssueStatusPartial {
		t.Fatalf("status after first receipt = %s", first.Fulfillment.Status)
	}
	mat := first.Fulfillment.Materials[0]
	if !mat.Used.Equal(d("5")) || !mat.Remaining.Equal(d("5")) {
		t.Fatalf("used/remaining = %s/%s, want 5/5", mat.Used, mat.Remaining)
	}
	if p := first.Fulfillment.Products[0]; p.State != models.FulfillmentStatePartial || !p.Pending.Equal(d("1")) {
		t.Fatalf("product = %+v", p)
	}

	second, err := receiveUnits(e, issue.ID, 1, "1")
	if err != nil {
		t.Fatalf("second receipt: %v", err)
	}
	assertBalances(t, e, m.ID, "90", "0", "0", "10")
	if second.Fulfillment.Status != models.IssueStatusCompleted {
		t.Fatalf("status after second receipt = %s", second.Fulfillment.Status)
	}
	mat = second.Fulfillment.Materials[0]
	if !mat.Used.Equal(d("10")) || !mat.Remaining.IsZero() {
		t.Fatalf("used/remaining = %s/%s, want 10/0", mat.Used, mat.Remaining)
	}
	if got := reloadMaterial(t, e, m.ID).TrackedTotal(); !got.Equal(d("100")) {
		t.Fatalf("tracked total = %s, want 100", got)
	}

	if _, err := receiveUnits(e, issue.ID, 1, "1"); !errors.Is(err, ErrOverReceipt) {
		t.Fatalf("receipt beyond issued err = %v", err)
	}
}

func TestThirdsTelescopeToSent(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Corner guard", "10")
	issue := singleProductIssue(t, e, models.DestinationClassJobber, m.ID, "3", "10", testNow)

	wantWIP := []string{"6.6667", "3.3333", "0"}
	for i, want := range wantWIP {
		res, err := receiveUnits(e, issue.ID, 1, "1")
		if err != nil {
			t.Fatalf("receipt %d: %v", i+1, err)
		}
		if got := reloadMaterial(t, e, m.ID).JobberWIP; !got.Equal(d(want)) {
			t.Fatalf("jobber WIP after receipt %d = %s, want %s", i+1, got, want)
		}
		mat := res.Fulfillment.Materials[0]
		if !mat.Used.Add(mat.Remaining).Equal(d("10")) {
			t.Fatalf("used %s + remaining %s != 10", mat.Used, mat.Remaining)
		}
	}
	assertBalances(t, e, m.ID, "0", "0", "0", "10")
}

func TestReceiptValidation(t *testing.T) {
	e := newTestEngine(t)
	box := mustMaterial(t, e, "Box", "100")
	tape := mustMaterial(t, e, "Tape", "100")
	issue, err := e.CreateIssue(testCtx(), &NewIssueRecord{
		DestinationClass: models.DestinationClassOwnUnit,
		IssueDate:        testNow,
		Products: []NewIssueProduct{
			{ProductId: 1, UnitsIssued: d("2"), Materials: []NewIssueMaterialLine{{MaterialId: box.ID, QuantityPerUnit: d("5")}}},
			{ProductId: 2, UnitsIssued: d("3"), Materials: []NewIssueMaterialLine{
				{MaterialId: box.ID, TotalQuantityIssued: d("6")},
				{MaterialId: tape.ID, TotalQuantityIssued: d("9")},
			}},
		},
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	assertBalances(t, e, box.ID, "84", "16", "0", "0")

	cases := []struct {
		name    string
		lines   []NewReceiptLine
		damaged []NewDamagedLine
		want    error
	}{
		{"over pending on one product", []NewReceiptLine{{ProductId: 1, ReceivedUnits: d("3")}, {ProductId: 2, ReceivedUnits: d("1")}}, nil, ErrOverReceipt},
		{"zero total", []NewReceiptLine{{ProductId: 1, ReceivedUnits: d("0")}, {ProductId: 2, ReceivedUnits: d("0")}}, nil, ErrNonPositiveReceipt},
		{"unknown product", []NewReceiptLine{{ProductId: 7, ReceivedUnits: d("1")}}, nil, ErrUnknownProduct},
		{"negative units", []NewReceiptLine{{ProductId: 1, ReceivedUnits: d("-1")}}, nil, ErrInvalidQuantity},
		{"duplicate product", []NewReceiptLine{{ProductId: 1, ReceivedUnits: d("1")}, {ProductId: 1, ReceivedUnits: d("1")}}, nil, ErrDuplicateLine},
		{"damage lines summed per material", []NewReceiptLine{{ProductId: 2, ReceivedUnits: d("1")}},
			[]NewDamagedLine{{MaterialId: tape.ID, DamagedQty: d("5")}, {MaterialId: tape.ID, DamagedQty: d("5")}}, ErrOverDamage},
	}
	for _, tc := range cases {
		_, err := e.AcceptReceipt(testCtx(), &NewReceipt{IssueRecordId: issue.ID, Lines: tc.lines, Damaged: tc.damaged})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
		if !IsValidationError(err) {
			t.Fatalf("%s: %v is not a validation error", tc.name, err)
		}
	}
	assertBalances(t, e, box.ID, "84", "16", "0", "0")
	if n, _ := models.CountActiveReceipts(e.DB, issue.ID); n != 0 {
		t.Fatalf("receipts after rejected requests = %d", n)
	}
}

func TestOverDamageIsRejectedWithoutStateChange(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Pallet wrap", "100")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)

	first, err := receiveUnits(e, issue.ID, 1, "1", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("4")})
	if err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	if len(first.Damaged) != 1 || first.Damaged[0].Status != models.DamageStatusPending {
		t.Fatalf("damaged = %+v", first.Damaged)
	}
	before := reloadMaterial(t, e, m.ID)

	_, err = receiveUnits(e, issue.ID, 1, "1", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("7")})
	if !errors.Is(err, ErrOverDamage) {
		t.Fatalf("err = %v, want ErrOverDamage", err)
	}
	after := reloadMaterial(t, e, m.ID)
	if !after.OwnUnitWIP.Equal(before.OwnUnitWIP) || !after.ConsumedQty.Equal(before.ConsumedQty) || !after.OnHandQty.Equal(before.OnHandQty) {
		t.Fatalf("material changed: before %+v after %+v", before, after)
	}
	entries, err := e.ListDamagedStock(testCtx(), issue.ID)
	if err != nil {
		t.Fatalf("ListDamagedStock: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("damaged entries = %d, want 1", len(entries))
	}
	if n, _ := models.CountActiveReceipts(e.DB, issue.ID); n != 1 {
		t.Fatalf("receipts = %d, want 1", n)
	}

	if _, err := e.RejectDamage(testCtx(), entries[0].ID, "miscounted"); err != nil {
		t.Fatalf("RejectDamage: %v", err)
	}
	if _, err := receiveUnits(e, issue.ID, 1, "1", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("7")}); err != nil {
		t.Fatalf("receipt after rejecting the reservation: %v", err)
	}
}

func TestCancelReceiptRestoresWIP(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Bubble wrap", "100")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "2", "10", testNow)
	res, err := receiveUnits(e, issue.ID, 1, "1", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("1")})
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	assertBalances(t, e, m.ID, "90", "5", "0", "5")

	if _, err := e.CancelReceipt(testCtx(), res.Receipt.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("cancel without reason err = %v", err)
	}
	cancelled, err := e.CancelReceipt(testCtx(), res.Receipt.ID, "entered twice")
	if err != nil {
		t.Fatalf("CancelReceipt: %v", err)
	}
	assertBalances(t, e, m.ID, "90", "10", "0", "0")
	if cancelled.Fulfillment.Status != models.IssueStatusNew || cancelled.Fulfillment.Products[0].State != models.FulfillmentStateNew {
		t.Fatalf("fulfillment after cancel = %+v", cancelled.Fulfillment)
	}
	entry, err := models.GetDamagedStockEntry(e.DB, res.Damaged[0].ID)
	if err != nil {
		t.Fatalf("GetDamagedStockEntry: %v", err)
	}
	if entry.Status != models.DamageStatusRejected {
		t.Fatalf("damaged entry status = %s, want Rejected", entry.Status)
	}
	if _, err := e.CancelReceipt(testCtx(), res.Receipt.ID, "again"); !errors.Is(err, ErrReceiptCancelled) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestCancelReceiptRefusedWithApprovedDamage(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Edge board", "50")
	issue := singleProductIssue(t, e, models.DestinationClassJobber, m.ID, "4", "20", testNow)
	res, err := receiveUnits(e, issue.ID, 1, "2", NewDamagedLine{MaterialId: m.ID, DamagedQty: d("2")})
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := e.ApproveDamage(testCtx(), res.Damaged[0].ID, "torn"); err != nil {
		t.Fatalf("ApproveDamage: %v", err)
	}
	if _, err := e.ApproveDamage(testCtx(), res.Damaged[0].ID, ""); !errors.Is(err, ErrDamageNotPending) {
		t.Fatalf("second approve err = %v", err)
	}
	if _, err := e.CancelReceipt(testCtx(), res.Receipt.ID, "wrong issue"); !errors.Is(err, ErrReceiptHasApprovedDamage) {
		t.Fatalf("cancel err = %v", err)
	}
	assertBalances(t, e, m.ID, "30", "0", "10", "10")
}

func TestFulfillmentStatusDisplaysTwoDecimals(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Divider", "10")
	issue := singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "3", "10", testNow)
	if _, err := receiveUnits(e, issue.ID, 1, "1"); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	status, err := e.FulfillmentStatus(testCtx(), issue.ID)
	if err != nil {
		t.Fatalf("FulfillmentStatus: %v", err)
	}
	mat := status.Materials[0]
	if !mat.Used.Equal(d("3.33")) || !mat.Remaining.Equal(d("6.67")) || !mat.Sent.Equal(d("10")) {
		t.Fatalf("material = %+v", mat)
	}
	p := status.Products[0]
	if !p.UnitsReceived.Equal(decimal.NewFromInt(1)) || !p.Pending.Equal(d("2")) {
		t.Fatalf("product = %+v", p)
	}
	if _, err := e.FulfillmentStatus(testCtx(), 999); !IsNotFound(err) {
		t.Fatalf("unknown issue err = %v", err)
	}
}

func TestConcurrentReceiptsNeverExceedUnitsIssued(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Pallet wrap", "10")
	issue := singleProductIssue(t, e, models.DestinationClassJobber, m.ID, "5", "10", testNow)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := receiveUnits(e, issue.ID, 1, "1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, over int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOverReceipt):
			over++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 5 || over != 3 {
		t.Fatalf("ok = %d over = %d, want 5 and 3", ok, over)
	}
	received, err := models.CumulativeReceivedUnits(e.DB, issue.ID, 0)
	if err != nil {
		t.Fatalf("CumulativeReceivedUnits: %v", err)
	}
	if got := received[issue.Products[0].ID]; !got.Equal(d("5")) {
		t.Fatalf("cumulative received = %s, want 5", got)
	}
	assertBalances(t, e, m.ID, "0", "0", "0", "10")
}

func TestTrackedTotalConservedAcrossOperations(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Foam sheet", "100")
	var issue *models.IssueRecord
	receipts := make([]*ReceiptResult, 0, 2)

	receive := func(units string) error {
		res, err := receiveUnits(e, issue.ID, 1, units)
		if err == nil {
			receipts = append(receipts, res)
		}
		return err
	}
	steps := []struct {
		name                        string
		run                         func() error
		onHand, own, consumed, wOff string
	}{
		{"issue", func() error {
			issue = singleProductIssue(t, e, models.DestinationClassOwnUnit, m.ID, "4", "20", testNow)
			return nil
		}, "80", "20", "0", "0"},
		{"first partial receipt", func() error { return receive("1") }, "80", "15", "5", "0"},
		{"second partial receipt", func() error { return receive("2") }, "80", "5", "15", "0"},
		{"cancel second receipt", func() error {
			_, err := e.CancelReceipt(testCtx(), receipts[1].Receipt.ID, "miscounted")
			return err
		}, "80", "15", "5", "0"},
		{"write off", func() error {
			issueId := issue.ID
			_, err := e.WriteOffVariance(testCtx(), &NewWriteOff{IssueRecordId: &issueId, MaterialId: m.ID, Quantity: d("3"), Reason: "lost"})
			return err
		}, "80", "12", "5", "3"},
		{"cancel first receipt", func() error {
			_, err := e.CancelReceipt(testCtx(), receipts[0].Receipt.ID, "wrong issue")
			return err
		}, "80", "17", "0", "3"},
		{"cancel issue", func() error {
			_, err := e.CancelIssue(testCtx(), issue.ID, "line stopped")
			return err
		}, "97", "0", "0", "3"},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		got := reloadMaterial(t, e, m.ID)
		if !got.OnHandQty.Equal(d(step.onHand)) || !got.OwnUnitWIP.Equal(d(step.own)) ||
			!got.ConsumedQty.Equal(d(step.consumed)) || !got.WrittenOffQty.Equal(d(step.wOff)) {
			t.Fatalf("%s: balances = on_hand %s own %s consumed %s written_off %s, want %s %s %s %s", step.name,
				got.OnHandQty, got.OwnUnitWIP, got.ConsumedQty, got.WrittenOffQty, step.onHand, step.own, step.consumed, step.wOff)
		}
		if !got.TrackedTotal().Equal(d("100")) {
			t.Fatalf("%s: tracked total = %s, want 100", step.name, got.TrackedTotal())
		}
	}
}

package workflow

import (
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/shopspring/decimal"
)

const (
	// StorageScale is the precision of persisted quantities.
	StorageScale = 4
	// DisplayScale is the precision of quantities shown to users.
	DisplayScale = 2
)

// Allocation splits the material sent for one product line into the part
// consumed by the units returned so far and the part still outstanding.
type Allocation struct {
	Sent      decimal.Decimal
	Used      decimal.Decimal
	Remaining decimal.Decimal
}

// Allocate computes usage from cumulative totals:
// used = unitsReturned / unitsIssued * sent. A zero unitsIssued uses nothing.
func Allocate(unitsReturned, unitsIssued, sent decimal.Decimal) Allocation {
	if !unitsIssued.IsPositive() || !unitsReturned.IsPositive() {
		return Allocation{Sent: sent, Used: decimal.Zero, Remaining: sent}
	}
	if unitsReturned.GreaterThan(unitsIssued) {
		unitsReturned = unitsIssued
	}
	used := sent.Mul(unitsReturned).Div(unitsIssued)
	return Allocation{Sent: sent, Used: used, Remaining: sent.Sub(used)}
}

// UsedStorage is the cumulative used quantity at storage precision. Deltas
// between successive values telescope, so the deltas of a fully returned
// line add up to exactly Sent.
func (a Allocation) UsedStorage() decimal.Decimal {
	return a.Used.Round(StorageScale)
}

// Display returns used and remaining at two decimals with remaining derived
// from the rounded figures so that used + remaining == sent as displayed.
func (a Allocation) Display() (used decimal.Decimal, remaining decimal.Decimal) {
	used = a.Used.Round(DisplayScale)
	remaining = a.Sent.Round(DisplayScale).Sub(used)
	return used, remaining
}

// UsageDelta is the storage-precision quantity consumed when cumulative
// returned units move from before to after. It is negative when units are
// taken back, e.g. by a receipt cancellation.
func UsageDelta(before, after, unitsIssued, sent decimal.Decimal) decimal.Decimal {
	return Allocate(after, unitsIssued, sent).UsedStorage().Sub(Allocate(before, unitsIssued, sent).UsedStorage())
}

// materialUsage is the storage-precision used quantity per material of an
// issue for the given cumulative received units per issue product.
func materialUsage(issue *models.IssueRecord, received map[int]decimal.Decimal) map[int]decimal.Decimal {
	usage := make(map[int]decimal.Decimal)
	for _, p := range issue.Products {
		for _, l := range p.Materials {
			a := Allocate(received[p.ID], p.UnitsIssued, l.TotalQuantityIssued)
			usage[l.MaterialId] = usage[l.MaterialId].Add(a.UsedStorage())
		}
	}
	return usage
}

package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAllocateProportional(t *testing.T) {
	cases := []struct {
		name      string
		returned  string
		issued    string
		sent      string
		used      string
		remaining string
	}{
		{"partial", "4", "10", "100", "40", "60"},
		{"complete", "10", "10", "100", "100", "0"},
		{"nothing returned", "0", "10", "100", "0", "100"},
		{"zero issued", "5", "0", "100", "0", "100"},
		{"over return is capped", "12", "10", "100", "100", "0"},
	}
	for _, tc := range cases {
		a := Allocate(d(tc.returned), d(tc.issued), d(tc.sent))
		if !a.Used.Equal(d(tc.used)) || !a.Remaining.Equal(d(tc.remaining)) {
			t.Fatalf("%s: got used=%s remaining=%s", tc.name, a.Used, a.Remaining)
		}
	}
}

func TestUsageDeltasTelescopeToSent(t *testing.T) {
	issued := d("3")
	sent := d("10")
	total := decimal.Zero
	cumulative := decimal.Zero
	for i := 0; i < 3; i++ {
		next := cumulative.Add(decimal.NewFromInt(1))
		delta := UsageDelta(cumulative, next, issued, sent)
		if delta.Exponent() < -StorageScale {
			t.Fatalf("delta %s has more than %d decimals", delta, StorageScale)
		}
		total = total.Add(delta)
		cumulative = next
	}
	if !total.Equal(sent) {
		t.Fatalf("expected deltas to sum to %s, got %s", sent, total)
	}
}

func TestUsageDeltaNegativeOnReturnTakeBack(t *testing.T) {
	delta := UsageDelta(d("6"), d("4"), d("10"), d("100"))
	if !delta.Equal(d("-20")) {
		t.Fatalf("expected -20, got %s", delta)
	}
}

func TestAllocationDisplaySums(t *testing.T) {
	a := Allocate(d("1"), d("3"), d("10"))
	used, remaining := a.Display()
	if !used.Equal(d("3.33")) || !remaining.Equal(d("6.67")) {
		t.Fatalf("got used=%s remaining=%s", used, remaining)
	}
	if !used.Add(remaining).Equal(d("10")) {
		t.Fatalf("display figures do not sum to sent")
	}
}

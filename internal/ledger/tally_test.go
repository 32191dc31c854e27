package ledger

import "testing"

const (
	tAddr  = "addr-alice"
	tAsset = AssetID(1)
)

func TestUpdateBalance_ReturnsPostTally(t *testing.T) {
	tl := NewTallyLedger()

	got := tl.UpdateBalance(tAddr, tAsset, 100, 20, 30, ReasonClearing, 1)
	want := Tally{Available: 100, Reserved: 20, Margin: 30}
	if got != want {
		t.Fatalf("UpdateBalance = %+v, want %+v", got, want)
	}

	got = tl.UpdateBalance(tAddr, tAsset, -40, 0, 10, ReasonMarginTransfer, 1)
	want = Tally{Available: 60, Reserved: 20, Margin: 40}
	if got != want {
		t.Fatalf("second UpdateBalance = %+v, want %+v", got, want)
	}
	if stored := tl.GetTally(tAddr, tAsset); stored != want {
		t.Errorf("GetTally = %+v, want %+v", stored, want)
	}
}

func TestGetTally_MissingReadsZero(t *testing.T) {
	tl := NewTallyLedger()
	if got := tl.GetTally("nobody", tAsset); got != (Tally{}) {
		t.Errorf("GetTally = %+v, want zero tally", got)
	}
}

func TestUpdateBalance_AppendsAuditDeltas(t *testing.T) {
	tl := NewTallyLedger()
	tl.UpdateBalance(tAddr, tAsset, 100, 0, 0, ReasonClearing, 1)
	tl.UpdateBalance(tAddr, tAsset, -30, 0, 30, ReasonMarginTransfer, 2)

	deltas := tl.DrainDeltas()
	if len(deltas) != 2 {
		t.Fatalf("len(deltas) = %d, want 2", len(deltas))
	}

	d := deltas[1]
	if d.AvailableDelta != -30 || d.MarginDelta != 30 {
		t.Errorf("deltas = (%d, %d), want (-30, 30)", d.AvailableDelta, d.MarginDelta)
	}
	if d.NewAvailable != 70 || d.NewMargin != 30 {
		t.Errorf("post values = (%d, %d), want (70, 30)", d.NewAvailable, d.NewMargin)
	}
	if d.Reason != ReasonMarginTransfer {
		t.Errorf("Reason = %v, want margin_transfer", d.Reason)
	}
	if d.Block != 2 {
		t.Errorf("Block = %d, want 2", d.Block)
	}

	if again := tl.DrainDeltas(); len(again) != 0 {
		t.Errorf("second drain returned %d deltas, want 0", len(again))
	}
}

func TestMarginMutatedInBlock(t *testing.T) {
	tl := NewTallyLedger()

	if tl.MarginMutatedInBlock(1) {
		t.Error("fresh ledger reports margin mutation")
	}

	tl.UpdateBalance(tAddr, tAsset, 50, 0, 0, ReasonClearing, 1)
	if tl.MarginMutatedInBlock(1) {
		t.Error("available-only change reported as margin mutation")
	}

	tl.UpdateBalance(tAddr, tAsset, 0, 0, 10, ReasonMarginTransfer, 1)
	if !tl.MarginMutatedInBlock(1) {
		t.Error("margin mutation in block 1 not reported")
	}
	if tl.MarginMutatedInBlock(2) {
		t.Error("stale block reported as mutated")
	}
}

func TestSumBalancesAndSupply(t *testing.T) {
	tl := NewTallyLedger()
	tl.UpdateBalance("addr-a", tAsset, 60, 0, 40, ReasonClearing, 1)
	tl.UpdateBalance("addr-b", tAsset, 25, 15, 0, ReasonClearing, 1)
	tl.SetCirculatingSupply(tAsset, 140)

	if got := tl.SumBalances(tAsset); got != 140 {
		t.Errorf("SumBalances = %d, want 140", got)
	}
	if got := tl.CirculatingSupply(tAsset); got != 140 {
		t.Errorf("CirculatingSupply = %d, want 140", got)
	}

	tl.AdjustCirculatingSupply(tAsset, -40)
	if got := tl.CirculatingSupply(tAsset); got != 100 {
		t.Errorf("adjusted supply = %d, want 100", got)
	}
}

func TestAssets_SortedUnion(t *testing.T) {
	tl := NewTallyLedger()
	tl.UpdateBalance(tAddr, AssetID(3), 10, 0, 0, ReasonClearing, 1)
	tl.SetCirculatingSupply(AssetID(1), 50)
	tl.UpdateBalance(tAddr, AssetID(2), 10, 0, 0, ReasonClearing, 1)

	got := tl.Assets()
	want := []AssetID{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Assets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Assets = %v, want %v", got, want)
		}
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	tl := NewTallyLedger()
	tl.UpdateBalance("addr-a", tAsset, 100, 0, 50, ReasonClearing, 1)
	tl.UpdateBalance("addr-b", tAsset, 30, 10, 0, ReasonClearing, 1)
	tl.SetCirculatingSupply(tAsset, 190)

	tallies := tl.Snapshot()
	supply := map[AssetID]int64{tAsset: tl.CirculatingSupply(tAsset)}

	// restored ledger must match without sharing state
	restored := NewTallyLedger()
	restored.Restore(tallies, supply)

	if got := restored.GetTally("addr-a", tAsset); got != (Tally{Available: 100, Margin: 50}) {
		t.Errorf("restored tally = %+v", got)
	}
	if got := restored.SumBalances(tAsset); got != 190 {
		t.Errorf("restored SumBalances = %d, want 190", got)
	}
	if got := restored.CirculatingSupply(tAsset); got != 190 {
		t.Errorf("restored supply = %d, want 190", got)
	}

	restored.UpdateBalance("addr-a", tAsset, -100, 0, 0, ReasonClearing, 2)
	if got := tl.GetTally("addr-a", tAsset); got.Available != 100 {
		t.Error("restore shared tally state with the source ledger")
	}
}

func TestValidateNonNegative(t *testing.T) {
	tl := NewTallyLedger()
	tl.UpdateBalance(tAddr, tAsset, 50, 0, 0, ReasonClearing, 1)

	if err := tl.ValidateNonNegative(tAddr, tAsset); err != nil {
		t.Errorf("positive tally flagged: %v", err)
	}

	tl.UpdateBalance(tAddr, tAsset, -80, 0, 0, ReasonClearing, 1)
	if err := tl.ValidateNonNegative(tAddr, tAsset); err == nil {
		t.Error("negative available not flagged")
	}
}

func TestReasonTagString(t *testing.T) {
	cases := []struct {
		reason ReasonTag
		want   string
	}{
		{ReasonClearing, "clearing"},
		{ReasonLiquidation, "liquidation"},
		{ReasonDeleverage, "deleverage"},
		{ReasonFundingBadDebt, "funding_bad_debt"},
		{ReasonIOUPayout, "iou_payout"},
		{ReasonDustAbsorb, "dust_absorb"},
		{ReasonTag(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.reason.String(); got != tc.want {
			t.Errorf("ReasonTag(%d).String() = %q, want %q", tc.reason, got, tc.want)
		}
	}
}

func TestAssetNameLookup(t *testing.T) {
	id, ok := GetAssetID("USDT")
	if !ok {
		t.Fatal("USDT not registered")
	}
	if got := AssetName(id); got != "USDT" {
		t.Errorf("AssetName(%d) = %q, want USDT", id, got)
	}
	if got := AssetName(AssetID(60000)); got != "asset-60000" {
		t.Errorf("unknown AssetName = %q, want asset-60000", got)
	}
}

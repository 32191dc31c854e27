package clearing

import (
	"testing"

	"github.com/rs/zerolog"

	"ClearLedger/internal/contract"
	"ClearLedger/internal/fixed"
	"ClearLedger/internal/insurance"
	"ClearLedger/internal/iou"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

const (
	engContract = "PERP-BTC-USDT"
	engAsset    = ledger.AssetID(1)
)

type stubPrices struct {
	index map[string]int64
	vwap  map[string]int64
}

func (s stubPrices) GetIndexPrice(contractID string, block int64) (int64, bool) {
	p, ok := s.index[contractID]
	return p, ok
}

func (s stubPrices) GetVWAP(contractID string, block, window int64) (int64, bool) {
	p, ok := s.vwap[contractID]
	return p, ok
}

// emptyBook never matches a forced order, pushing every liquidation
// straight to deleveraging.
type emptyBook struct{}

func (emptyBook) EstimateLiquidation(contractID string, size, limitPrice int64, sell, inverse bool) int64 {
	return 0
}

func (emptyBook) ExecuteLiquidation(contractID string, size, limitPrice int64, sell bool) []BookFill {
	return nil
}

type stubTrades struct {
	trades []Trade
}

func (s stubTrades) GetTradesBetween(contractID string, fromBlock, toBlock int64) []Trade {
	return s.trades
}

type engineFixture struct {
	engine    *Engine
	registry  *contract.Registry
	balances  *ledger.TallyLedger
	positions *position.Ledger
	ious      *iou.Ledger
	prices    *stubPrices
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	registry := contract.NewRegistry()
	if err := registry.Register(&contract.Info{
		ContractID:        engContract,
		CollateralAssetID: engAsset,
		NotionalValue:     fixed.Scale,
		Leverage:          10,
		Perpetual:         true,
		Whitelisted:       true,
	}); err != nil {
		t.Fatalf("register contract: %v", err)
	}

	balances := ledger.NewTallyLedger()
	positions := position.NewLedger()
	ious := iou.NewLedger()
	prices := &stubPrices{index: make(map[string]int64), vwap: make(map[string]int64)}

	engine := NewEngine(EngineParams{
		Registry:  registry,
		Balances:  balances,
		Positions: positions,
		IOUs:      ious,
		Prices:    prices,
		Book:      emptyBook{},
		Insurance: insurance.NewFund(balances, engAsset, zerolog.Nop()),
		Trades:    stubTrades{},
		Logger:    zerolog.Nop(),
	})

	return &engineFixture{
		engine:    engine,
		registry:  registry,
		balances:  balances,
		positions: positions,
		ious:      ious,
		prices:    prices,
	}
}

func (f *engineFixture) seed(t *testing.T, address string, available, margin int64) {
	t.Helper()
	f.balances.UpdateBalance(address, engAsset, available, 0, margin, ledger.ReasonClearing, 0)
	f.balances.AdjustCirculatingSupply(engAsset, available+margin)
}

func (f *engineFixture) open(address string, contracts, avgPrice, lastMark, margin int64) {
	f.positions.SetPosition(&position.Position{
		Address:    address,
		ContractID: engContract,
		Contracts:  contracts,
		AvgPrice:   avgPrice,
		LastMark:   lastMark,
		Margin:     margin,
	})
}

func price(units int64) int64 { return units * fixed.Scale }

func TestSettleBlock_MarkToMarketIsZeroSum(t *testing.T) {
	f := newEngineFixture(t)

	f.seed(t, "alice", price(20), price(10))
	f.seed(t, "bob", price(20), price(10))
	f.open("alice", fixed.Scale, price(100), price(100), price(10))
	f.open("bob", -fixed.Scale, price(100), price(100), price(10))
	f.prices.index[engContract] = price(110)

	res, err := f.engine.SettleBlock(1)
	if err != nil {
		t.Fatalf("SettleBlock: %v", err)
	}
	if len(res.Contracts) != 1 {
		t.Fatalf("contracts settled = %d, want 1", len(res.Contracts))
	}

	alice := f.balances.GetTally("alice", engAsset)
	bob := f.balances.GetTally("bob", engAsset)
	if alice.Available != price(30) {
		t.Errorf("alice available = %d, want %d", alice.Available, price(30))
	}
	if bob.Available != price(10) {
		t.Errorf("bob available = %d, want %d", bob.Available, price(10))
	}
	if bob.Margin != price(10) {
		t.Errorf("bob margin = %d, want %d (loss covered from available)", bob.Margin, price(10))
	}

	total := alice.Available + alice.Margin + bob.Available + bob.Margin
	if total != price(60) {
		t.Errorf("total collateral = %d, want %d", total, price(60))
	}
	if net := f.ious.NetAmount(engAsset); net != 0 {
		t.Errorf("iou net = %d, want 0 after symmetric clearing", net)
	}

	for _, addr := range []string{"alice", "bob"} {
		pos := f.positions.Get(engContract, addr)
		if pos.LastMark != price(110) {
			t.Errorf("%s lastMark = %d, want %d", addr, pos.LastMark, price(110))
		}
	}
	if got := f.positions.Get(engContract, "alice").UnrealizedPnL; got != price(10) {
		t.Errorf("alice unrealized = %d, want %d", got, price(10))
	}
}

func TestSettleBlock_MissingPriceDefersContract(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(t, "alice", price(20), price(10))
	f.open("alice", fixed.Scale, price(100), price(100), price(10))

	res, err := f.engine.SettleBlock(1)
	if err != nil {
		t.Fatalf("SettleBlock: %v", err)
	}
	if len(res.Contracts) != 0 {
		t.Fatalf("contracts settled = %d, want 0 with no oracle print", len(res.Contracts))
	}

	if got := f.balances.GetTally("alice", engAsset).Available; got != price(20) {
		t.Errorf("alice available = %d, want untouched %d", got, price(20))
	}
}

func TestSettleBlock_UnchangedPriceSkipsContract(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(t, "alice", price(20), price(10))
	f.seed(t, "bob", price(20), price(10))
	f.open("alice", fixed.Scale, price(100), price(100), price(10))
	f.open("bob", -fixed.Scale, price(100), price(100), price(10))
	f.prices.index[engContract] = price(110)

	if _, err := f.engine.SettleBlock(1); err != nil {
		t.Fatalf("SettleBlock 1: %v", err)
	}
	res, err := f.engine.SettleBlock(2)
	if err != nil {
		t.Fatalf("SettleBlock 2: %v", err)
	}
	if len(res.Contracts) != 0 {
		t.Fatalf("contracts settled = %d, want 0 on unchanged mark", len(res.Contracts))
	}
}

func TestSettleBlock_TotalLiquidationDeleverages(t *testing.T) {
	f := newEngineFixture(t)

	// bob's short is hopeless at 120: loss 20, coverage 0 + 5/2.
	f.seed(t, "alice", price(20), price(10))
	f.seed(t, "bob", 0, price(5))
	f.open("alice", fixed.Scale, price(100), price(100), price(10))
	f.open("bob", -fixed.Scale, price(100), price(100), price(5))
	f.prices.index[engContract] = price(120)

	res, err := f.engine.SettleBlock(1)
	if err != nil {
		t.Fatalf("SettleBlock: %v", err)
	}
	if len(res.Contracts) != 1 {
		t.Fatalf("contracts settled = %d, want 1", len(res.Contracts))
	}

	cres := res.Contracts[0]
	if len(cres.Liquidations) != 1 {
		t.Fatalf("liquidations = %d, want 1", len(cres.Liquidations))
	}
	ev := cres.Liquidations[0]
	if ev.Address != "bob" {
		t.Errorf("liquidated address = %s, want bob", ev.Address)
	}
	if ev.Kind != LiquidationTotal {
		t.Errorf("kind = %s, want total", ev.Kind)
	}
	if ev.Seized != price(5) {
		t.Errorf("seized = %d, want %d (bob's whole pool)", ev.Seized, price(5))
	}
	// shortfall 17.5 (loss 20 less the 2.5 solvency allowance), net of
	// the 5 seized
	if want := price(25) / 2; ev.SystemicLoss != want {
		t.Errorf("systemic loss = %d, want %d", ev.SystemicLoss, want)
	}
	if ev.ADLSize != fixed.Scale {
		t.Errorf("adl size = %d, want %d (null order book)", ev.ADLSize, fixed.Scale)
	}
	if len(ev.ADLFills) != 1 || ev.ADLFills[0].Address != "alice" {
		t.Fatalf("adl fills = %+v, want one fill closing alice", ev.ADLFills)
	}

	// bankruptcy: avg 100 + drop 5, shaved by the short-side safety factor
	wantBank := fixed.MulDiv(price(105), position.BankruptcySafetyShort, fixed.Scale)
	if ev.BankruptcyPrice != wantBank {
		t.Errorf("bankruptcy price = %d, want %d", ev.BankruptcyPrice, wantBank)
	}

	// both sides force-closed
	if !f.positions.Get(engContract, "bob").IsFlat() {
		t.Error("bob not flat after total liquidation")
	}
	if !f.positions.Get(engContract, "alice").IsFlat() {
		t.Error("alice not flat after deleveraging")
	}

	// alice's entitlement from lastMark to the bankruptcy price, fully
	// funded from the seized pool, plus her released margin
	entitlement := fixed.PnL(fixed.Scale, price(100), wantBank, fixed.Scale, false)
	alice := f.balances.GetTally("alice", engAsset)
	wantAvailable := price(20) + price(10) + entitlement
	if alice.Available != wantAvailable {
		t.Errorf("alice available = %d, want %d", alice.Available, wantAvailable)
	}
	if alice.Margin != 0 {
		t.Errorf("alice margin = %d, want 0 after close", alice.Margin)
	}

	bob := f.balances.GetTally("bob", engAsset)
	if bob.Available != 0 || bob.Margin != 0 {
		t.Errorf("bob tally = %+v, want zeroed", bob)
	}

	// seized minus paid entitlement stays in the bucket reserve
	if net := f.ious.NetAmount(engAsset); net != price(5)-entitlement {
		t.Errorf("iou net = %d, want %d", net, price(5)-entitlement)
	}
}

func TestSettleBlock_SystemicLossIsShortfallNetOfSeized(t *testing.T) {
	f := newEngineFixture(t)

	// bob's short is wiped out by a violent move: loss 175 against a pool
	// of 50. The solvency pass already allows for half the margin, so the
	// shortfall is 150 and what the pool cannot pay of it, 100, is
	// socialized. The full residual loss is not.
	f.seed(t, "alice", price(200), price(60))
	f.seed(t, "bob", 0, price(50))
	f.open("alice", fixed.Scale, price(100), price(100), price(60))
	f.open("bob", -fixed.Scale, price(100), price(100), price(50))
	f.prices.index[engContract] = price(275)

	res, err := f.engine.SettleBlock(1)
	if err != nil {
		t.Fatalf("SettleBlock: %v", err)
	}
	if len(res.Contracts) != 1 || len(res.Contracts[0].Liquidations) != 1 {
		t.Fatalf("result = %+v, want one contract with one liquidation", res)
	}

	ev := res.Contracts[0].Liquidations[0]
	if ev.Kind != LiquidationTotal {
		t.Errorf("kind = %s, want total", ev.Kind)
	}
	if ev.Seized != price(50) {
		t.Errorf("seized = %d, want %d (bob's whole pool)", ev.Seized, price(50))
	}
	if ev.SystemicLoss != price(100) {
		t.Errorf("systemic loss = %d, want %d (shortfall 150 less 50 seized)", ev.SystemicLoss, price(100))
	}
	if res.SystemicLoss != price(100) {
		t.Errorf("block systemic loss = %d, want %d", res.SystemicLoss, price(100))
	}
}

func TestSettleBlock_InsuranceCoversADLGap(t *testing.T) {
	f := newEngineFixture(t)

	// bob sold at 120 but was cleared down to 100, so the bankruptcy price
	// anchored at his entry sits far above what his 1 token of collateral
	// can pay: alice's entitlement outruns the seized pool and the gap
	// falls to the insurance fund.
	f.seed(t, "alice", price(50), price(20))
	f.seed(t, "bob", 0, price(1))
	f.seed(t, ledger.InsuranceAddress, price(100), 0)
	f.open("alice", fixed.Scale, price(100), price(100), price(20))
	f.open("bob", -fixed.Scale, price(120), price(100), price(1))
	f.prices.index[engContract] = price(150)

	res, err := f.engine.SettleBlock(1)
	if err != nil {
		t.Fatalf("SettleBlock: %v", err)
	}
	// shortfall 49.5 (loss 50 less the 0.5 solvency allowance), net of
	// the 1 seized
	if want := price(97) / 2; res.SystemicLoss != want {
		t.Errorf("systemic loss = %d, want %d", res.SystemicLoss, want)
	}
	if res.InsurancePaid <= 0 {
		t.Fatalf("insurance paid = %d, want > 0", res.InsurancePaid)
	}

	wantBank := fixed.MulDiv(price(121), position.BankruptcySafetyShort, fixed.Scale)
	entitlement := fixed.PnL(fixed.Scale, price(100), wantBank, fixed.Scale, false)
	gap := entitlement - price(1) // pool share capped at the 1 seized
	if res.InsurancePaid != gap {
		t.Errorf("insurance paid = %d, want the full gap %d", res.InsurancePaid, gap)
	}

	ins := f.balances.GetTally(ledger.InsuranceAddress, engAsset)
	if ins.Available != price(100)-gap {
		t.Errorf("insurance available = %d, want %d", ins.Available, price(100)-gap)
	}
}

func TestApplyFunding_LongsPayShorts(t *testing.T) {
	f := newEngineFixture(t)

	f.seed(t, "alice", price(50), price(10))
	f.seed(t, "bob", price(50), price(10))
	f.open("alice", fixed.Scale, price(100), price(110), price(10))
	f.open("bob", -fixed.Scale, price(100), price(110), price(10))

	// index 10 bps above vwap: 5 survive the dead band, /8 per epoch
	f.prices.index[engContract] = price(110)
	f.prices.vwap[engContract] = price(100)

	events := f.engine.applyFunding(24)
	if len(events) != 1 {
		t.Fatalf("funding events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.HourlyBps != 5*fixed.Scale/8 {
		t.Errorf("hourly bps = %d, want %d", ev.HourlyBps, 5*fixed.Scale/8)
	}

	exposure := fixed.Notional(fixed.Scale, price(110), fixed.Scale, false)
	wantPayment := fixed.FundingPayment(exposure, ev.HourlyBps)
	if ev.Collected != wantPayment {
		t.Errorf("collected = %d, want %d", ev.Collected, wantPayment)
	}
	if ev.Distributed != ev.Collected {
		t.Errorf("distributed = %d, collected = %d; funding must conserve", ev.Distributed, ev.Collected)
	}
	if ev.BadDebt != 0 {
		t.Errorf("bad debt = %d, want 0", ev.BadDebt)
	}

	if got := f.balances.GetTally("alice", engAsset).Available; got != price(50)-wantPayment {
		t.Errorf("alice available = %d, want %d", got, price(50)-wantPayment)
	}
	if got := f.balances.GetTally("bob", engAsset).Available; got != price(50)+wantPayment {
		t.Errorf("bob available = %d, want %d", got, price(50)+wantPayment)
	}
}

func TestApplyFunding_DeadBandSuppressesSmallPremium(t *testing.T) {
	f := newEngineFixture(t)

	f.seed(t, "alice", price(50), price(10))
	f.seed(t, "bob", price(50), price(10))
	f.open("alice", fixed.Scale, price(100), price(100), price(10))
	f.open("bob", -fixed.Scale, price(100), price(100), price(10))

	// 2 bps premium is inside the 5 bps dead band
	f.prices.index[engContract] = price(102)
	f.prices.vwap[engContract] = price(100)

	if events := f.engine.applyFunding(24); len(events) != 0 {
		t.Fatalf("funding events = %d, want 0 inside dead band", len(events))
	}
}

func TestApplyFunding_ShortfallBecomesBadDebt(t *testing.T) {
	f := newEngineFixture(t)

	f.seed(t, "alice", 1_000, price(10)) // can't cover the funding payment
	f.seed(t, "bob", price(50), price(10))
	f.open("alice", fixed.Scale, price(100), price(110), price(10))
	f.open("bob", -fixed.Scale, price(100), price(110), price(10))

	f.prices.index[engContract] = price(110)
	f.prices.vwap[engContract] = price(100)

	events := f.engine.applyFunding(24)
	if len(events) != 1 {
		t.Fatalf("funding events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Collected != 1_000 {
		t.Errorf("collected = %d, want alice's whole available 1000", ev.Collected)
	}
	if ev.BadDebt == 0 {
		t.Error("bad debt = 0, want the uncollected remainder")
	}
	if ev.Distributed != ev.Collected {
		t.Errorf("distributed = %d, want collected %d", ev.Distributed, ev.Collected)
	}
}

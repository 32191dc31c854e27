package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ClearLedger/internal/book"
	"ClearLedger/internal/clearing"
	"ClearLedger/internal/contract"
	"ClearLedger/internal/event"
	"ClearLedger/internal/fixed"
	"ClearLedger/internal/insurance"
	"ClearLedger/internal/iou"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/observability"
	"ClearLedger/internal/position"
	"ClearLedger/internal/state"
)

// DeterministicSettler is the single-threaded event processor. It owns all
// consensus state: contract registry, balance tallies, positions, the IOU
// bucket, price and trade caches, and the book depth view. Every input
// event flows through ProcessEvent exactly once; BlockCommit events trigger
// full block settlement through the clearing engine.
//
// The settler MUST NOT call time.Now() on the apply path. All timestamps
// are versioned inputs so replicas replaying the same event stream produce
// bit-identical state hashes.
type DeterministicSettler struct {
	sequence int64
	hasher   *StateHasher

	registry  *contract.Registry
	balances  *ledger.TallyLedger
	positions *position.Ledger
	ious      *iou.Ledger
	prices    *state.PriceCache
	trades    *state.TradeStore
	depth     *book.LevelBook
	insurance *insurance.Fund
	clearer   *clearing.Engine

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	lastBlock int64
	// high-water mark of versioned input timestamps, used to stamp events
	// that carry no timestamp of their own
	lastEventTime time.Time

	persistChan    chan<- SettlerOutput
	projectionChan chan<- SettlerOutput
}

// SettlerOutput is what the settler hands downstream after applying one
// event: the sealed envelope plus the audit deltas it produced, and the
// block settlement result when the event was a BlockCommit.
type SettlerOutput struct {
	Envelope       *event.EventEnvelope
	BalanceDeltas  []ledger.BalanceDelta
	PositionDeltas []position.Delta
	Block          *clearing.BlockResult
}

// SettlerConfig carries construction parameters.
type SettlerConfig struct {
	StartSequence   int64
	CollateralAsset ledger.AssetID
	PersistChan     chan<- SettlerOutput
	ProjectionChan  chan<- SettlerOutput
	DBChecker       DBIdempotencyChecker
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
	DedupCapacity   int
	RetentionBlocks int64
}

func NewDeterministicSettler(cfg SettlerConfig) *DeterministicSettler {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 1_000_000
	}

	registry := contract.NewRegistry()
	balances := ledger.NewTallyLedger()
	positions := position.NewLedger()
	ious := iou.NewLedger()
	trades := state.NewTradeStore(cfg.RetentionBlocks)
	prices := state.NewPriceCache(trades, cfg.RetentionBlocks)
	depth := book.NewLevelBook()
	fund := insurance.NewFund(balances, cfg.CollateralAsset, cfg.Logger)

	var observer clearing.Observer
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}

	clearer := clearing.NewEngine(clearing.EngineParams{
		Registry:  registry,
		Balances:  balances,
		Positions: positions,
		IOUs:      ious,
		Prices:    prices,
		Book:      depth,
		Insurance: fund,
		Trades:    trades,
		Observer:  observer,
		Logger:    cfg.Logger,
	})

	return &DeterministicSettler{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		registry:          registry,
		balances:          balances,
		positions:         positions,
		ious:              ious,
		prices:            prices,
		trades:            trades,
		depth:             depth,
		insurance:         fund,
		clearer:           clearer,
		idempotency:       NewIdempotencyChecker(cfg.DedupCapacity, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           cfg.Metrics,
		log:               cfg.Logger,
		persistChan:       cfg.PersistChan,
		projectionChan:    cfg.ProjectionChan,
	}
}

// Registry exposes the contract registry for recovery seeding.
func (s *DeterministicSettler) Registry() *contract.Registry { return s.registry }

// Balances exposes the tally ledger for recovery seeding.
func (s *DeterministicSettler) Balances() *ledger.TallyLedger { return s.balances }

// Positions exposes the position ledger for recovery seeding.
func (s *DeterministicSettler) Positions() *position.Ledger { return s.positions }

// IOUs exposes the loss bucket for recovery seeding.
func (s *DeterministicSettler) IOUs() *iou.Ledger { return s.ious }

// Sequence returns the next sequence number to be assigned.
func (s *DeterministicSettler) Sequence() int64 { return s.sequence }

// SequenceValidator exposes partition state for recovery seeding.
func (s *DeterministicSettler) SequenceValidator() *SequenceValidator { return s.sequenceValidator }

// WarmIdempotency preloads recently persisted keys into the dedup LRU.
func (s *DeterministicSettler) WarmIdempotency(keys []string) {
	s.idempotency.lru.WarmFromKeys(keys)
}

// ProcessEvent is the main processing pipeline: dedup, sequence validation,
// dispatch, digest, hash chain, emit.
func (s *DeterministicSettler) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	isDuplicate := s.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Oracle prints tolerate sequence gaps, and block commits carry their
	// own monotonic height check in settleBlock; everything else is strict
	// per partition.
	if priceEvt, ok := evt.(*event.MarkPriceUpdate); ok {
		if err := s.sequenceValidator.ValidatePriceSequence(priceEvt.Contract, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else if _, ok := evt.(*event.BlockCommit); ok {
		// validated in settleBlock
	} else {
		partition := s.getPartition(evt)
		if err := s.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			s.rejected(eventType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		s.rejected(eventType, "duplicate")
		return nil
	}

	blockRes, err := s.dispatch(evt)
	if err != nil {
		s.rejected(eventType, "dispatch")
		return fmt.Errorf("dispatch failed: %w", err)
	}

	balDeltas := s.balances.DrainDeltas()
	posDeltas := s.positions.DrainDeltas()

	stateDigest := s.computeStateDigest(balDeltas, posDeltas)
	prevHash := s.hasher.GetPrevHash()
	stateHash := s.hasher.ComputeHash(s.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal %s payload: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       s.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		ContractID:     evt.ContractID(),
		BlockHeight:    eventBlockHeight(evt, s.lastBlock),
		Timestamp:      s.eventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	s.sequence++

	output := SettlerOutput{
		Envelope:       envelope,
		BalanceDeltas:  balDeltas,
		PositionDeltas: posDeltas,
		Block:          blockRes,
	}

	// Persistence gets a blocking send: the settler stalls rather than
	// lose a durable record. Projections get a non-blocking send and
	// rebuild from the event log when they fall behind.
	if s.persistChan != nil {
		select {
		case s.persistChan <- output:
		default:
			if s.metrics != nil {
				s.metrics.PersistBackpressure.Inc()
			}
			s.persistChan <- output
		}
	}
	if s.projectionChan != nil {
		select {
		case s.projectionChan <- output:
		default:
			if s.metrics != nil {
				s.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	s.idempotency.MarkProcessed(eventType, idempotencyKey)

	if s.metrics != nil {
		s.metrics.EventsApplied.WithLabelValues(eventType).Inc()
		s.metrics.EventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		s.metrics.CoreSequence.Set(float64(s.sequence))
		s.metrics.DedupLRUSize.Set(float64(s.idempotency.lru.Size()))
	}

	return nil
}

func (s *DeterministicSettler) dispatch(evt event.Event) (*clearing.BlockResult, error) {
	switch e := evt.(type) {
	case *event.TradeFill:
		return nil, s.applyTradeFill(e)
	case *event.MarkPriceUpdate:
		s.prices.Record(e.Contract, e.BlockHeight, e.MarkPrice, e.IndexPrice)
		return nil, nil
	case *event.BlockCommit:
		return s.settleBlock(e)
	case *event.MarginAllocate:
		return nil, s.applyMarginAllocate(e)
	case *event.MarginRelease:
		return nil, s.applyMarginRelease(e)
	case *event.ContractParamUpdate:
		return nil, s.applyContractParams(e)
	case *event.BookDepthSnapshot:
		s.applyDepth(e)
		return nil, nil
	default:
		return nil, fmt.Errorf("unhandled event type %T", evt)
	}
}

// applyTradeFill applies a matched trade to both parties. Position deltas
// realize against the average price for reporting; the cash that actually
// moves settles against the last cleared mark, since the avg-to-mark leg
// was already paid out by prior block clearings.
func (s *DeterministicSettler) applyTradeFill(e *event.TradeFill) error {
	info, ok := s.registry.GetContractInfo(e.Contract)
	if !ok {
		return fmt.Errorf("trade on unknown contract %s", e.Contract)
	}
	if !info.Whitelisted {
		return fmt.Errorf("trade on non-whitelisted contract %s", e.Contract)
	}
	if e.Buyer == e.Seller {
		return fmt.Errorf("self-trade on %s by %s", e.Contract, e.Buyer)
	}

	if err := s.applyFillSide(e, info, e.Buyer, e.Quantity); err != nil {
		return err
	}
	if err := s.applyFillSide(e, info, e.Seller, -e.Quantity); err != nil {
		return err
	}

	s.trades.Record(clearing.Trade{
		TradeID:    e.FillID,
		ContractID: e.Contract,
		Buyer:      e.Buyer,
		Seller:     e.Seller,
		Quantity:   e.Quantity,
		Price:      e.Price,
		Block:      e.BlockHeight,
	})
	return nil
}

func (s *DeterministicSettler) applyFillSide(
	e *event.TradeFill,
	info *contract.Info,
	address string,
	signedQty int64,
) error {
	assetID := info.CollateralAssetID
	block := e.BlockHeight

	var lastMark, heldBefore int64
	if prev := s.positions.Get(e.Contract, address); prev != nil {
		lastMark = prev.LastMark
		heldBefore = prev.Contracts
	}

	tally := s.balances.GetTally(address, assetID)
	pos, _, err := s.positions.ApplyFill(
		address, e.Contract, signedQty, e.Price,
		info.NotionalValue, info.Inverse, tally.Available, block,
	)
	if err != nil {
		return err
	}

	// Cash-settle the closed quantity against the last cleared mark.
	if closed := closedQuantity(heldBefore, signedQty); closed != 0 && lastMark > 0 {
		cash := fixed.PnL(closed, lastMark, e.Price, info.NotionalValue, info.Inverse)
		if cash > 0 {
			s.balances.UpdateBalance(address, assetID, cash, 0, 0, ledger.ReasonTradeSettle, block)
			s.ious.AddProfit(e.Contract, assetID, cash, block)
		} else if cash < 0 {
			s.balances.UpdateBalance(address, assetID, cash, 0, 0, ledger.ReasonTradeSettle, block)
			s.ious.AddLoss(e.Contract, assetID, -cash, block)
		}
	}

	// Top margin up to the initial requirement from available collateral.
	imPerContract, err := s.registry.GetInitialMargin(e.Contract, e.Price)
	if err != nil {
		return err
	}
	required := fixed.MulDiv(pos.AbsContracts(), imPerContract, fixed.Scale)
	if deficit := required - pos.Margin; deficit > 0 {
		t := s.balances.GetTally(address, assetID)
		take := deficit
		if take > t.Available {
			take = t.Available
		}
		if take > 0 {
			s.balances.UpdateBalance(address, assetID, -take, 0, take, ledger.ReasonMarginTransfer, block)
			s.positions.UpdateMargin(pos, take, block)
		}
	}

	// Fee is charged per side into the fee cache.
	if e.Fee > 0 {
		s.balances.UpdateBalance(address, assetID, -e.Fee, 0, 0, ledger.ReasonTradeSettle, block)
		s.balances.UpdateBalance(ledger.FeeCacheAddress, assetID, e.Fee, 0, 0, ledger.ReasonTradeSettle, block)
	}
	return nil
}

// closedQuantity returns the quantity a fill closes out of an existing
// holding, signed like the held side. Zero when the fill extends.
func closedQuantity(held, fillSigned int64) int64 {
	if held == 0 || fixed.Sign(held) == fixed.Sign(fillSigned) {
		return 0
	}
	closing := fixed.Abs(fillSigned)
	if h := fixed.Abs(held); closing > h {
		closing = h
	}
	return closing * fixed.Sign(held)
}

func (s *DeterministicSettler) applyMarginAllocate(e *event.MarginAllocate) error {
	assetID, ok := s.registry.GetCollateralID(e.Contract)
	if !ok {
		return fmt.Errorf("margin allocate on unknown contract %s", e.Contract)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("margin allocate with non-positive amount %d", e.Amount)
	}

	tally := s.balances.GetTally(e.Address, assetID)
	if tally.Available < e.Amount {
		return fmt.Errorf("margin allocate: %s has %d available, needs %d",
			e.Address, tally.Available, e.Amount)
	}

	s.balances.UpdateBalance(e.Address, assetID, -e.Amount, 0, e.Amount, ledger.ReasonMarginTransfer, e.BlockHeight)
	pos := s.positions.GetOrCreate(e.Contract, e.Address)
	s.positions.UpdateMargin(pos, e.Amount, e.BlockHeight)
	return nil
}

func (s *DeterministicSettler) applyMarginRelease(e *event.MarginRelease) error {
	info, ok := s.registry.GetContractInfo(e.Contract)
	if !ok {
		return fmt.Errorf("margin release on unknown contract %s", e.Contract)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("margin release with non-positive amount %d", e.Amount)
	}

	pos := s.positions.Get(e.Contract, e.Address)
	if pos == nil {
		return fmt.Errorf("margin release: no position for %s on %s", e.Address, e.Contract)
	}

	// Release is floored at the initial requirement for the open quantity,
	// priced at the last cleared mark.
	refPrice := pos.LastMark
	if refPrice == 0 {
		if mark, ok := s.prices.GetIndexPrice(e.Contract, e.BlockHeight); ok {
			refPrice = mark
		}
	}
	var imPerContract int64
	if refPrice > 0 {
		var err error
		imPerContract, err = s.registry.GetInitialMargin(e.Contract, refPrice)
		if err != nil {
			return err
		}
	}
	released := s.positions.ReduceMargin(pos, e.Amount, imPerContract, e.BlockHeight)
	if released > 0 {
		s.balances.UpdateBalance(e.Address, info.CollateralAssetID, released, 0, -released, ledger.ReasonMarginTransfer, e.BlockHeight)
	}
	return nil
}

func (s *DeterministicSettler) applyContractParams(e *event.ContractParamUpdate) error {
	assetID, ok := ledger.GetAssetID(e.CollateralAsset)
	if !ok {
		return fmt.Errorf("contract %s references unknown asset %s", e.Contract, e.CollateralAsset)
	}
	return s.registry.Register(&contract.Info{
		ContractID:        e.Contract,
		CollateralAssetID: assetID,
		NotionalValue:     e.NotionalValue,
		Inverse:           e.Inverse,
		Leverage:          e.Leverage,
		Perpetual:         e.Perpetual,
		Whitelisted:       e.Whitelisted,
	})
}

func (s *DeterministicSettler) applyDepth(e *event.BookDepthSnapshot) {
	s.depth.SetDepth(e.Contract, toLevels(e.Bids), toLevels(e.Asks))
}

func toLevels(in []event.PriceLevel) []book.Level {
	if len(in) == 0 {
		return nil
	}
	out := make([]book.Level, len(in))
	for i, l := range in {
		out[i] = book.Level{Address: l.Address, Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

func (s *DeterministicSettler) settleBlock(e *event.BlockCommit) (*clearing.BlockResult, error) {
	if e.Height <= s.lastBlock {
		return nil, fmt.Errorf("stale block commit: height=%d last=%d", e.Height, s.lastBlock)
	}

	res, err := s.clearer.SettleBlock(e.Height)
	if err != nil {
		return nil, err
	}

	s.lastBlock = e.Height
	s.prices.Prune(e.Height)
	s.trades.Prune(e.Height)

	if s.metrics != nil {
		s.metrics.InsuranceBalance.Set(float64(s.insurance.Balance()))
	}
	return res, nil
}

// eventBlockHeight resolves the block height an event belongs to,
// defaulting to the last settled block for events that carry none.
func eventBlockHeight(evt event.Event, lastBlock int64) int64 {
	switch e := evt.(type) {
	case *event.TradeFill:
		return e.BlockHeight
	case *event.MarkPriceUpdate:
		return e.BlockHeight
	case *event.BlockCommit:
		return e.Height
	case *event.MarginAllocate:
		return e.BlockHeight
	case *event.MarginRelease:
		return e.BlockHeight
	case *event.BookDepthSnapshot:
		return e.BlockHeight
	default:
		return lastBlock
	}
}

// getPartition determines the partition key for sequence validation.
func (s *DeterministicSettler) getPartition(evt event.Event) string {
	if cid := evt.ContractID(); cid != nil {
		return fmt.Sprintf("contract:%s", *cid)
	}
	return "global"
}

// eventTimestamp extracts the versioned timestamp from an event. Events
// that carry no timestamp of their own are stamped with the high-water
// mark of timestamps seen so far, which is still a pure function of the
// event stream.
func (s *DeterministicSettler) eventTimestamp(evt event.Event) time.Time {
	var ts time.Time
	switch e := evt.(type) {
	case *event.TradeFill:
		ts = e.Timestamp
	case *event.MarkPriceUpdate:
		ts = time.UnixMicro(e.PriceTimestamp)
	case *event.BlockCommit:
		ts = e.Timestamp
	}
	if ts.After(s.lastEventTime) {
		s.lastEventTime = ts
	}
	return s.lastEventTime
}

// computeStateDigest builds canonical bytes over every tally and position
// the event touched, read back from authoritative state so the digest
// reflects post-apply values.
func (s *DeterministicSettler) computeStateDigest(
	balDeltas []ledger.BalanceDelta,
	posDeltas []position.Delta,
) []byte {
	tallyKeys := make(map[ledger.TallyKey]bool)
	for _, d := range balDeltas {
		tallyKeys[ledger.TallyKey{Address: d.Address, AssetID: d.AssetID}] = true
	}
	tks := make([]ledger.TallyKey, 0, len(tallyKeys))
	for k := range tallyKeys {
		tks = append(tks, k)
	}
	sort.Slice(tks, func(i, j int) bool {
		if tks[i].Address != tks[j].Address {
			return tks[i].Address < tks[j].Address
		}
		return tks[i].AssetID < tks[j].AssetID
	})

	posKeys := make(map[position.Key]bool)
	for _, d := range posDeltas {
		posKeys[position.Key{ContractID: d.ContractID, Address: d.Address}] = true
	}
	pks := make([]position.Key, 0, len(posKeys))
	for k := range posKeys {
		pks = append(pks, k)
	}
	sort.Slice(pks, func(i, j int) bool {
		if pks[i].ContractID != pks[j].ContractID {
			return pks[i].ContractID < pks[j].ContractID
		}
		return pks[i].Address < pks[j].Address
	})

	digest := make([]byte, 0, len(tks)*48+len(pks)*64)

	for _, k := range tks {
		t := s.balances.GetTally(k.Address, k.AssetID)
		digest = appendPath(digest, fmt.Sprintf("t:%s:%d", k.Address, k.AssetID))
		digest = appendInt64LE(digest, t.Available)
		digest = appendInt64LE(digest, t.Reserved)
		digest = appendInt64LE(digest, t.Margin)
	}
	for _, k := range pks {
		var contracts, avgPrice, margin int64
		if p := s.positions.Get(k.ContractID, k.Address); p != nil {
			contracts, avgPrice, margin = p.Contracts, p.AvgPrice, p.Margin
		}
		digest = appendPath(digest, fmt.Sprintf("p:%s:%s", k.ContractID, k.Address))
		digest = appendInt64LE(digest, contracts)
		digest = appendInt64LE(digest, avgPrice)
		digest = appendInt64LE(digest, margin)
	}
	return digest
}

func appendPath(buf []byte, path string) []byte {
	buf = append(buf, byte(len(path)))
	return append(buf, []byte(path)...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56),
	)
}

func (s *DeterministicSettler) rejected(eventType, reason string) {
	if s.metrics != nil {
		s.metrics.EventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

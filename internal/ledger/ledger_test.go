package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func one() decimal.Decimal { return decimal.NewFromInt(1) }

func limitOrder(clientID, exchangeID, symbol string, side model.Side, qty, price float64) model.OrderInfo {
	return model.OrderInfo{
		ClientOrderID:   clientID,
		ExchangeOrderID: exchangeID,
		Symbol:          symbol,
		Side:            side,
		OrderType:       model.OrderTypeLimit,
		PositionSide:    model.PositionSideNet,
		Quantity:        d(qty),
		Price:           d(price),
		Status:          model.OrderStatusAccepted,
		CreateTime:      time.Now().UTC(),
	}
}

// --- Balance operations ---

func TestFreeze_MovesAvailableToFrozen(t *testing.T) {
	l := New(d(1000))

	if !l.Freeze(d(400)) {
		t.Fatal("freeze should succeed")
	}
	if !l.Available().Equal(d(600)) {
		t.Errorf("expected available=600, got %s", l.Available())
	}
	if !l.Frozen().Equal(d(400)) {
		t.Errorf("expected frozen=400, got %s", l.Frozen())
	}
	if !l.Total().Equal(d(1000)) {
		t.Errorf("expected total=1000, got %s", l.Total())
	}
}

func TestFreeze_InsufficientBalance(t *testing.T) {
	l := New(d(100))

	if l.Freeze(d(100.01)) {
		t.Fatal("freeze beyond available should fail")
	}
	// No partial mutation.
	if !l.Available().Equal(d(100)) || !l.Frozen().IsZero() {
		t.Errorf("balances mutated on failed freeze: available=%s frozen=%s",
			l.Available(), l.Frozen())
	}
}

func TestFreeze_NonPositiveAmount(t *testing.T) {
	l := New(d(100))
	if l.Freeze(decimal.Zero) {
		t.Error("freeze of zero should fail")
	}
	if l.Freeze(d(-5)) {
		t.Error("freeze of negative amount should fail")
	}
}

func TestUnfreeze_RoundTrip(t *testing.T) {
	l := New(d(1000))
	l.Freeze(d(250))
	l.Unfreeze(d(250))

	if !l.Available().Equal(d(1000)) {
		t.Errorf("expected available restored to 1000, got %s", l.Available())
	}
	if !l.Frozen().IsZero() {
		t.Errorf("expected frozen=0, got %s", l.Frozen())
	}
}

func TestUnfreeze_ClampsAtZero(t *testing.T) {
	l := New(d(1000))
	l.Freeze(d(100))

	// Over-unfreeze releases only what is frozen; frozen never goes
	// negative and the total is conserved.
	l.Unfreeze(d(500))

	if !l.Frozen().IsZero() {
		t.Errorf("expected frozen clamped to 0, got %s", l.Frozen())
	}
	if !l.Available().Equal(d(1000)) {
		t.Errorf("expected available=1000, got %s", l.Available())
	}
}

func TestCreditDebit(t *testing.T) {
	l := New(d(100))

	l.Credit(d(50))
	if !l.Available().Equal(d(150)) {
		t.Errorf("expected available=150 after credit, got %s", l.Available())
	}

	if !l.Debit(d(150)) {
		t.Fatal("debit within balance should succeed")
	}
	if !l.Available().IsZero() {
		t.Errorf("expected available=0, got %s", l.Available())
	}

	if l.Debit(d(0.01)) {
		t.Error("debit beyond balance should fail")
	}
}

// --- ApplyFill: position arithmetic ---

func TestApplyFill_OpensLongPosition(t *testing.T) {
	l := New(d(100000))

	res, err := l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50005), d(25.0025), one())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := res.Position
	if !pos.Quantity.Equal(d(1)) {
		t.Errorf("expected quantity=1, got %s", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(50005)) {
		t.Errorf("expected avg_price=50005, got %s", pos.AvgPrice)
	}
	if !res.RealizedPnL.IsZero() {
		t.Errorf("opening fill should realize nothing, got %s", res.RealizedPnL)
	}
	// 100000 - 50005 - 25.0025
	want := d(49969.9975)
	if !l.Available().Equal(want) {
		t.Errorf("expected available=%s, got %s", want, l.Available())
	}
}

func TestApplyFill_AddingRecomputesWeightedAvg(t *testing.T) {
	l := New(d(100000))

	l.ApplyFill("ETH-USDT", model.SideBuy, d(2), d(3000), decimal.Zero, one())
	res, err := l.ApplyFill("ETH-USDT", model.SideBuy, d(2), d(3100), decimal.Zero, one())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// (2*3000 + 2*3100) / 4 = 3050
	if !res.Position.AvgPrice.Equal(d(3050)) {
		t.Errorf("expected avg_price=3050, got %s", res.Position.AvgPrice)
	}
	if !res.Position.Quantity.Equal(d(4)) {
		t.Errorf("expected quantity=4, got %s", res.Position.Quantity)
	}
}

func TestApplyFill_ReducingRealizesPnLAgainstOldAvg(t *testing.T) {
	l := New(d(100000))

	l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50005), decimal.Zero, one())
	res, err := l.ApplyFill("BTC-USDT", model.SideSell, d(1), d(51000), d(10.2), one())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1 * (51000 - 50005) * 1 = 995
	if !res.RealizedPnL.Equal(d(995)) {
		t.Errorf("expected realized pnl=995, got %s", res.RealizedPnL)
	}
	if !res.Position.Quantity.IsZero() {
		t.Errorf("expected flat position, got %s", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.IsZero() {
		t.Errorf("avg_price should reset to 0 when flat, got %s", res.Position.AvgPrice)
	}
	if !res.Position.RealizedPnL.Equal(d(995)) {
		t.Errorf("expected cumulative realized pnl=995, got %s", res.Position.RealizedPnL)
	}

	// available = 100000 - 50005 (buy notional) + 51000 (sell notional)
	//             + 995 (realized pnl credit) - 10.2 (sell fee)
	want := d(100000).Sub(d(50005)).Add(d(51000)).Add(d(995)).Sub(d(10.2))
	if !l.Available().Equal(want) {
		t.Errorf("expected available=%s, got %s", want, l.Available())
	}
}

func TestApplyFill_PartialReduceKeepsAvgPrice(t *testing.T) {
	l := New(d(1000000))

	l.ApplyFill("BTC-USDT", model.SideBuy, d(2), d(50000), decimal.Zero, one())
	res, _ := l.ApplyFill("BTC-USDT", model.SideSell, d(1), d(52000), decimal.Zero, one())

	if !res.Position.Quantity.Equal(d(1)) {
		t.Errorf("expected quantity=1, got %s", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d(50000)) {
		t.Errorf("reducing leg must not move avg_price, got %s", res.Position.AvgPrice)
	}
	if !res.RealizedPnL.Equal(d(2000)) {
		t.Errorf("expected realized pnl=2000, got %s", res.RealizedPnL)
	}
}

func TestApplyFill_ShortSideRealizedPnL(t *testing.T) {
	l := New(d(1000000))

	// Open short 2 @ 50000, cover 2 @ 49000 → pnl = 2 * (50000-49000).
	l.ApplyFill("BTC-USDT", model.SideSell, d(2), d(50000), decimal.Zero, one())

	pos := l.Position("BTC-USDT", model.PositionSideNet)
	if !pos.Quantity.Equal(d(-2)) {
		t.Fatalf("expected quantity=-2, got %s", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(50000)) {
		t.Fatalf("expected avg_price=50000, got %s", pos.AvgPrice)
	}

	res, err := l.ApplyFill("BTC-USDT", model.SideBuy, d(2), d(49000), decimal.Zero, one())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.RealizedPnL.Equal(d(2000)) {
		t.Errorf("expected realized pnl=2000 on short cover, got %s", res.RealizedPnL)
	}
}

func TestApplyFill_ReversalOpensAtFillPrice(t *testing.T) {
	l := New(d(1000000))

	l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50000), decimal.Zero, one())
	res, err := l.ApplyFill("BTC-USDT", model.SideSell, d(3), d(51000), decimal.Zero, one())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1 closed at +1000 pnl; excess 2 opens short at 51000.
	if !res.RealizedPnL.Equal(d(1000)) {
		t.Errorf("expected realized pnl=1000, got %s", res.RealizedPnL)
	}
	if !res.Position.Quantity.Equal(d(-2)) {
		t.Errorf("expected quantity=-2, got %s", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d(51000)) {
		t.Errorf("reversal excess should open at fill price 51000, got %s", res.Position.AvgPrice)
	}
}

func TestApplyFill_ContractValueScalesNotionalAndPnL(t *testing.T) {
	l := New(d(100000))
	cv := d(0.01)

	l.ApplyFill("BTC-USD-PERP", model.SideBuy, d(10), d(50000), decimal.Zero, cv)
	// Notional = 10 * 50000 * 0.01 = 5000.
	if !l.Available().Equal(d(95000)) {
		t.Errorf("expected available=95000, got %s", l.Available())
	}

	res, _ := l.ApplyFill("BTC-USD-PERP", model.SideSell, d(10), d(51000), decimal.Zero, cv)
	// PnL = 10 * 1000 * 0.01 = 100.
	if !res.RealizedPnL.Equal(d(100)) {
		t.Errorf("expected realized pnl=100, got %s", res.RealizedPnL)
	}
}

func TestApplyFill_InsufficientBalanceNoMutation(t *testing.T) {
	l := New(d(100))

	_, err := l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50000), d(25), one())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.Available().Equal(d(100)) {
		t.Errorf("failed fill must not mutate balance, got %s", l.Available())
	}
	pos := l.Position("BTC-USDT", model.PositionSideNet)
	if !pos.Quantity.IsZero() {
		t.Errorf("failed fill must not mutate position, got %s", pos.Quantity)
	}
}

func TestApplyFill_PositionAdditivity(t *testing.T) {
	l := New(d(10000000))

	fills := []struct {
		side model.Side
		qty  float64
	}{
		{model.SideBuy, 3}, {model.SideSell, 1}, {model.SideBuy, 2},
		{model.SideSell, 5}, {model.SideBuy, 0.5}, {model.SideSell, 0.25},
	}

	expected := decimal.Zero
	for _, f := range fills {
		if _, err := l.ApplyFill("ETH-USDT", f.side, d(f.qty), d(3000), decimal.Zero, one()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		signed := d(f.qty)
		if f.side == model.SideSell {
			signed = signed.Neg()
		}
		expected = expected.Add(signed)
	}

	pos := l.Position("ETH-USDT", model.PositionSideNet)
	if !pos.Quantity.Equal(expected) {
		t.Errorf("expected quantity=%s, got %s", expected, pos.Quantity)
	}
}

// --- Mark to market ---

func TestMarkToMarket_UpdatesUnrealizedPnL(t *testing.T) {
	l := New(d(1000000))
	l.ApplyFill("BTC-USDT", model.SideBuy, d(2), d(50000), decimal.Zero, one())

	l.MarkToMarket("BTC-USDT", d(51000), one())

	pos := l.Position("BTC-USDT", model.PositionSideNet)
	if !pos.MarkPrice.Equal(d(51000)) {
		t.Errorf("expected mark_price=51000, got %s", pos.MarkPrice)
	}
	if !pos.UnrealizedPnL.Equal(d(2000)) {
		t.Errorf("expected unrealized pnl=2000, got %s", pos.UnrealizedPnL)
	}

	// Equity = total balance + unrealized.
	wantEquity := l.Total().Add(d(2000))
	if !l.TotalEquity().Equal(wantEquity) {
		t.Errorf("expected equity=%s, got %s", wantEquity, l.TotalEquity())
	}
}

func TestMarkToMarket_FlatPositionHasNoUnrealized(t *testing.T) {
	l := New(d(1000000))
	l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50000), decimal.Zero, one())
	l.ApplyFill("BTC-USDT", model.SideSell, d(1), d(50000), decimal.Zero, one())

	l.MarkToMarket("BTC-USDT", d(60000), one())

	pos := l.Position("BTC-USDT", model.PositionSideNet)
	if !pos.UnrealizedPnL.IsZero() {
		t.Errorf("flat position should have zero unrealized pnl, got %s", pos.UnrealizedPnL)
	}
}

// --- Open-order book ---

func TestOpenOrder_DualKeyLookup(t *testing.T) {
	l := New(d(100000))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(45009))

	byClient, ok := l.OpenOrder("c1")
	if !ok {
		t.Fatal("lookup by client order id failed")
	}
	byExchange, ok := l.OpenOrder("mock_1")
	if !ok {
		t.Fatal("lookup by exchange order id failed")
	}
	if byClient.ClientOrderID != byExchange.ClientOrderID {
		t.Error("both keys must resolve to the same order")
	}
}

func TestListOpenOrders_NoDuplicates(t *testing.T) {
	l := New(d(1000000))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(45009))
	l.AddOpenOrder(limitOrder("c2", "mock_2", "BTC-USDT", model.SideSell, 1, 55000), decimal.Zero)
	l.AddOpenOrder(limitOrder("c3", "mock_3", "ETH-USDT", model.SideBuy, 1, 2900), d(2900.58))

	all := l.ListOpenOrders("")
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}
	seen := make(map[string]bool)
	for _, o := range all {
		if seen[o.ClientOrderID] {
			t.Errorf("duplicate order in listing: %s", o.ClientOrderID)
		}
		seen[o.ClientOrderID] = true
	}

	btc := l.ListOpenOrders("BTC-USDT")
	if len(btc) != 2 {
		t.Errorf("expected 2 BTC-USDT orders, got %d", len(btc))
	}
}

func TestCancelOpenOrder_ReleasesExactReservation(t *testing.T) {
	l := New(d(100000))

	// Freeze notional + estimated fee, as limit-buy submission does.
	reserved := d(45000).Add(d(9))
	if !l.Freeze(reserved) {
		t.Fatal("freeze failed")
	}
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), reserved)

	_, ok := l.CancelOpenOrder("c1")
	if !ok {
		t.Fatal("cancel failed")
	}

	// Cancellation must restore available exactly, fee component
	// included — nothing leaks into frozen.
	if !l.Available().Equal(d(100000)) {
		t.Errorf("expected available restored to 100000, got %s", l.Available())
	}
	if !l.Frozen().IsZero() {
		t.Errorf("expected frozen=0 after cancel, got %s", l.Frozen())
	}
}

func TestCancelOpenOrder_Idempotent(t *testing.T) {
	l := New(d(100000))
	l.Freeze(d(45009))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(45009))

	if _, ok := l.CancelOpenOrder("c1"); !ok {
		t.Fatal("first cancel should succeed")
	}
	available := l.Available()

	if _, ok := l.CancelOpenOrder("c1"); ok {
		t.Error("second cancel should return false")
	}
	if _, ok := l.CancelOpenOrder("mock_1"); ok {
		t.Error("cancel by stale exchange id should return false")
	}
	if !l.Available().Equal(available) {
		t.Errorf("repeated cancel must not mutate balance: %s != %s", l.Available(), available)
	}
}

func TestCancelAllOpenOrders_BySymbol(t *testing.T) {
	l := New(d(1000000))
	l.Freeze(d(45009))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(45009))
	l.AddOpenOrder(limitOrder("c2", "mock_2", "ETH-USDT", model.SideSell, 1, 3500), decimal.Zero)

	cancelled := l.CancelAllOpenOrders("BTC-USDT")
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 cancelled order, got %d", len(cancelled))
	}
	if cancelled[0].ClientOrderID != "c1" {
		t.Errorf("expected c1 cancelled, got %s", cancelled[0].ClientOrderID)
	}
	if len(l.ListOpenOrders("")) != 1 {
		t.Error("ETH order should remain open")
	}
	if !l.Frozen().IsZero() {
		t.Errorf("expected frozen released, got %s", l.Frozen())
	}
}

func TestRemoveOpenOrder_ReturnsReservation(t *testing.T) {
	l := New(d(100000))
	l.Freeze(d(45009))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(45009))

	o, reserved, ok := l.RemoveOpenOrder("mock_1")
	if !ok {
		t.Fatal("remove failed")
	}
	if o.ClientOrderID != "c1" {
		t.Errorf("expected c1, got %s", o.ClientOrderID)
	}
	if !reserved.Equal(d(45009)) {
		t.Errorf("expected reserved=45009, got %s", reserved)
	}
	// Remove does not release: the caller settles the reservation.
	if !l.Frozen().Equal(d(45009)) {
		t.Errorf("remove must not unfreeze, frozen=%s", l.Frozen())
	}
}

// --- Reset ---

func TestReset_WipesEverything(t *testing.T) {
	l := New(d(100000))
	l.ApplyFill("BTC-USDT", model.SideBuy, d(1), d(50000), d(25), one())
	l.Freeze(d(1000))
	l.AddOpenOrder(limitOrder("c1", "mock_1", "BTC-USDT", model.SideBuy, 1, 45000), d(1000))

	l.Reset(d(50000))

	if !l.Available().Equal(d(50000)) {
		t.Errorf("expected available=50000, got %s", l.Available())
	}
	if !l.Frozen().IsZero() {
		t.Errorf("expected frozen=0, got %s", l.Frozen())
	}
	if len(l.ListOpenOrders("")) != 0 {
		t.Error("expected empty order book")
	}
	if len(l.ActivePositions()) != 0 {
		t.Error("expected no active positions")
	}
}

// --- Concurrency ---

func TestConcurrentFills_ConserveBalanceAndPosition(t *testing.T) {
	l := New(d(10000000))

	const workers = 8
	const fillsPerWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < fillsPerWorker; i++ {
				side := model.SideBuy
				if (w+i)%2 == 1 {
					side = model.SideSell
				}
				l.ApplyFill("BTC-USDT", side, d(1), d(100), decimal.Zero, one())
			}
		}(w)
	}
	wg.Wait()

	// Equal buys and sells at one price: flat position, balance restored.
	pos := l.Position("BTC-USDT", model.PositionSideNet)
	if !pos.Quantity.IsZero() {
		t.Errorf("expected flat position, got %s", pos.Quantity)
	}
	if !l.Available().Equal(d(10000000)) {
		t.Errorf("expected balance conserved at 10000000, got %s", l.Available())
	}
	if l.Available().IsNegative() || l.Frozen().IsNegative() {
		t.Error("balances must never go negative")
	}
}

func TestConcurrentFreezeDebit_NeverNegative(t *testing.T) {
	l := New(d(1000))

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.Freeze(d(100)) {
					l.Unfreeze(d(100))
				}
				if l.Debit(d(100)) {
					l.Credit(d(100))
				}
			}
		}()
	}
	wg.Wait()

	if l.Available().IsNegative() || l.Frozen().IsNegative() {
		t.Errorf("negative balance after concurrent ops: available=%s frozen=%s",
			l.Available(), l.Frozen())
	}
	if !l.Total().Equal(d(1000)) {
		t.Errorf("expected total conserved at 1000, got %s", l.Total())
	}
}

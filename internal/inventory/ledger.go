package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Ledger applies reserve/release/commit/restock movements to inventory rows.
// Every call runs inside the caller's transaction; rows are locked in ascending
// product id order and a failure on any line leaves every row untouched.
type Ledger struct {
	logger   *slog.Logger
	alerter  Alerter
	observer Observer
	now      func() time.Time
}

// NewLedger builds Ledger. alerter and observer may be nil.
func NewLedger(logger *slog.Logger, alerter Alerter, observer Observer) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{logger: logger, alerter: alerter, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// Lock pre-acquires the rows of every product a transaction is about to touch
// through several ledger calls.
func (l *Ledger) Lock(ctx context.Context, tx TxRepository, productIDs ...int64) error {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.LockStock(ctx, ids)
	return err
}

// Reserve increases reserved quantity. It fails with ErrInsufficientStock when
// any line exceeds the available quantity.
func (l *Ledger) Reserve(ctx context.Context, tx TxRepository, ref Ref, lines ...Line) error {
	return l.apply(ctx, tx, ref, MovementReserve, lines, func(s *Stock, qty int64) error {
		if qty > s.Available() {
			return fmt.Errorf("inventory: product %d requested %d, available %d: %w", s.ProductID, qty, s.Available(), shared.ErrInsufficientStock)
		}
		s.Reserved += qty
		return nil
	})
}

// Release decreases reserved quantity.
func (l *Ledger) Release(ctx context.Context, tx TxRepository, ref Ref, lines ...Line) error {
	return l.apply(ctx, tx, ref, MovementRelease, lines, func(s *Stock, qty int64) error {
		if qty > s.Reserved {
			return &shared.InvariantError{Cause: shared.ErrInvalidRelease, ProductID: s.ProductID, Requested: qty, Reserved: s.Reserved}
		}
		s.Reserved -= qty
		return nil
	})
}

// Commit decreases both on-hand and reserved quantity.
func (l *Ledger) Commit(ctx context.Context, tx TxRepository, ref Ref, lines ...Line) error {
	return l.apply(ctx, tx, ref, MovementCommit, lines, func(s *Stock, qty int64) error {
		if qty > s.Reserved {
			return &shared.InvariantError{Cause: shared.ErrInvalidCommit, ProductID: s.ProductID, Requested: qty, Reserved: s.Reserved}
		}
		s.Quantity -= qty
		s.Reserved -= qty
		return nil
	})
}

// Restock puts returned units back on hand when the condition is good. Other
// conditions are logged as a discard and leave the row unchanged.
func (l *Ledger) Restock(ctx context.Context, tx TxRepository, ref Ref, productID, qty int64, condition Condition) (Movement, error) {
	if !condition.Valid() {
		return Movement{}, shared.ValidationErrorf(fmt.Sprintf("unknown condition %q", condition))
	}
	op := MovementRestock
	if condition != ConditionGood {
		op = MovementDiscard
	}
	var written Movement
	err := l.applyWith(ctx, tx, ref, op, []Line{{ProductID: productID, Qty: qty}}, func(s *Stock, q int64) error {
		if op == MovementRestock {
			s.Quantity += q
		}
		return nil
	}, func(m *Movement) {
		m.Condition = condition
		written = *m
	})
	if err != nil {
		return Movement{}, err
	}
	return written, nil
}

// Receive books inbound supplier stock and refreshes the batch metadata.
func (l *Ledger) Receive(ctx context.Context, tx TxRepository, ref Ref, input ReceiveInput) (Stock, error) {
	var result Stock
	err := l.apply(ctx, tx, ref, MovementReceive, []Line{{ProductID: input.ProductID, Qty: input.Qty}}, func(s *Stock, qty int64) error {
		s.Quantity += qty
		if input.BatchNumber != nil {
			s.BatchNumber = input.BatchNumber
		}
		if input.ExpiryDate != nil {
			s.ExpiryDate = input.ExpiryDate
		}
		if input.Location != nil {
			s.Location = input.Location
		}
		result = *s
		return nil
	})
	return result, err
}

// Adjust overwrites on-hand quantity with a counted value and logs the signed
// difference. A target below the reserved quantity fails with ErrBelowReserved.
func (l *Ledger) Adjust(ctx context.Context, tx TxRepository, ref Ref, input AdjustInput) (Stock, error) {
	if input.ProductID <= 0 {
		l.observe(MovementAdjust, "rejected", 0)
		return Stock{}, shared.ValidationErrorf("product id required")
	}
	if input.Quantity < 0 {
		l.observe(MovementAdjust, "rejected", 0)
		return Stock{}, shared.ValidationErrorf("quantity must be >= 0")
	}
	rows, err := tx.LockStock(ctx, []int64{input.ProductID})
	if err != nil {
		return Stock{}, fmt.Errorf("inventory: lock stock: %w", err)
	}
	stock, ok := rows[input.ProductID]
	if !ok {
		stock = Stock{ProductID: input.ProductID}
	}
	if input.Quantity < stock.Reserved {
		l.observe(MovementAdjust, "rejected", 0)
		return Stock{}, fmt.Errorf("inventory: product %d counted %d, reserved %d: %w", input.ProductID, input.Quantity, stock.Reserved, shared.ErrBelowReserved)
	}

	now := l.now()
	delta := input.Quantity - stock.Quantity
	stock.Quantity = input.Quantity
	if input.BatchNumber != nil {
		stock.BatchNumber = input.BatchNumber
	}
	if input.ExpiryDate != nil {
		stock.ExpiryDate = input.ExpiryDate
	}
	if input.Location != nil {
		stock.Location = input.Location
	}
	stock.UpdatedAt = now
	if err := tx.SaveStock(ctx, stock); err != nil {
		return Stock{}, fmt.Errorf("inventory: save stock %d: %w", stock.ProductID, err)
	}
	movement := Movement{
		ID:            uuid.New(),
		ProductID:     stock.ProductID,
		Type:          MovementAdjust,
		Qty:           delta,
		QuantityAfter: stock.Quantity,
		ReservedAfter: stock.Reserved,
		RefModule:     ref.Module,
		RefID:         ref.ID,
		Actor:         ref.Actor,
		Note:          ref.Note,
		At:            now,
	}
	if err := tx.InsertMovements(ctx, []Movement{movement}); err != nil {
		return Stock{}, fmt.Errorf("inventory: insert movements: %w", err)
	}
	if delta < 0 {
		delta = -delta
	}
	l.observe(MovementAdjust, "ok", delta)
	return stock, nil
}

func (l *Ledger) apply(ctx context.Context, tx TxRepository, ref Ref, op MovementType, lines []Line, mutate func(*Stock, int64) error) error {
	return l.applyWith(ctx, tx, ref, op, lines, mutate, nil)
}

func (l *Ledger) applyWith(ctx context.Context, tx TxRepository, ref Ref, op MovementType, lines []Line, mutate func(*Stock, int64) error, decorate func(*Movement)) error {
	merged, err := aggregate(lines)
	if err != nil {
		l.observe(op, "rejected", 0)
		return err
	}
	ids := make([]int64, len(merged))
	for i, line := range merged {
		ids[i] = line.ProductID
	}
	rows, err := tx.LockStock(ctx, ids)
	if err != nil {
		return fmt.Errorf("inventory: lock stock: %w", err)
	}

	now := l.now()
	updated := make([]Stock, 0, len(merged))
	movements := make([]Movement, 0, len(merged))
	var total int64
	for _, line := range merged {
		stock, ok := rows[line.ProductID]
		if !ok {
			stock = Stock{ProductID: line.ProductID}
		}
		if err := mutate(&stock, line.Qty); err != nil {
			return l.fail(ctx, op, ref, err)
		}
		stock.UpdatedAt = now
		updated = append(updated, stock)
		movement := Movement{
			ID:            uuid.New(),
			ProductID:     line.ProductID,
			Type:          op,
			Qty:           line.Qty,
			QuantityAfter: stock.Quantity,
			ReservedAfter: stock.Reserved,
			RefModule:     ref.Module,
			RefID:         ref.ID,
			Actor:         ref.Actor,
			Note:          ref.Note,
			At:            now,
		}
		if decorate != nil {
			decorate(&movement)
		}
		movements = append(movements, movement)
		total += line.Qty
	}

	for _, stock := range updated {
		if stock.Quantity < 0 || stock.Reserved < 0 || stock.Reserved > stock.Quantity {
			invErr := &shared.InvariantError{Cause: shared.ErrInternal, ProductID: stock.ProductID, Reserved: stock.Reserved}
			return l.fail(ctx, op, ref, invErr)
		}
		if err := tx.SaveStock(ctx, stock); err != nil {
			return fmt.Errorf("inventory: save stock %d: %w", stock.ProductID, err)
		}
	}
	if err := tx.InsertMovements(ctx, movements); err != nil {
		return fmt.Errorf("inventory: insert movements: %w", err)
	}
	l.observe(op, "ok", total)
	return nil
}

func (l *Ledger) fail(ctx context.Context, op MovementType, ref Ref, err error) error {
	var invErr *shared.InvariantError
	if !errors.As(err, &invErr) {
		l.observe(op, "rejected", 0)
		return err
	}
	l.observe(op, "invariant_violation", 0)
	l.logger.ErrorContext(ctx, "inventory ledger invariant violated",
		slog.String("op", string(op)),
		slog.Int64("product_id", invErr.ProductID),
		slog.Int64("requested", invErr.Requested),
		slog.Int64("reserved", invErr.Reserved),
		slog.String("ref_module", ref.Module),
		slog.Int64("ref_id", ref.ID),
		slog.String("actor", ref.Actor),
		slog.Any("error", invErr.Cause),
	)
	if l.alerter != nil {
		l.alerter.InvariantViolated(ctx, op, invErr)
	}
	return fmt.Errorf("inventory: %s product %d: %w", op, invErr.ProductID, invErr)
}

func (l *Ledger) observe(op MovementType, outcome string, qty int64) {
	if l.observer != nil {
		l.observer.ObserveLedger(op, outcome, qty)
	}
}

// aggregate merges lines per product, sorted by product id.
func aggregate(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, shared.ValidationErrorf("no inventory lines")
	}
	totals := make(map[int64]int64, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 {
			return nil, shared.ValidationErrorf("product id required")
		}
		if line.Qty <= 0 {
			return nil, shared.ValidationErrorf(fmt.Sprintf("quantity for product %d must be positive", line.ProductID))
		}
		totals[line.ProductID] += line.Qty
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{ProductID: id, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package orders

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Trigger names the event that moves an order between statuses.
type Trigger string

const (
	TriggerSubmit            Trigger = "submit"
	TriggerInventoryApprove  Trigger = "inventory_approve"
	TriggerInventoryReject   Trigger = "inventory_reject"
	TriggerForwardAccounting Trigger = "forward_accounting"
	TriggerAccountingApprove Trigger = "accounting_approve"
	TriggerAccountingReject  Trigger = "accounting_reject"
	TriggerDispatch          Trigger = "dispatch"
	TriggerDeliverFull       Trigger = "deliver_full"
	TriggerDeliverPartial    Trigger = "deliver_partial"
	TriggerFinalize          Trigger = "finalize"
	TriggerReturnAccepted    Trigger = "return_accepted"
)

var transitions = map[Status]map[Trigger]Status{
	StatusDraft: {
		TriggerSubmit: StatusPendingInventory,
	},
	StatusPendingInventory: {
		TriggerInventoryApprove: StatusInventoryApproved,
		TriggerInventoryReject:  StatusInventoryRejected,
	},
	StatusInventoryApproved: {
		TriggerForwardAccounting: StatusPendingAccounting,
	},
	StatusPendingAccounting: {
		TriggerAccountingApprove: StatusApproved,
		TriggerAccountingReject:  StatusRejected,
	},
	StatusApproved: {
		TriggerDispatch: StatusInTransit,
	},
	StatusInTransit: {
		TriggerDeliverFull:    StatusDelivered,
		TriggerDeliverPartial: StatusPartiallyDelivered,
	},
	StatusPartiallyDelivered: {
		TriggerDeliverFull:    StatusDelivered,
		TriggerDeliverPartial: StatusPartiallyDelivered,
		TriggerReturnAccepted: StatusReturned,
	},
	StatusDelivered: {
		TriggerFinalize:       StatusCompleted,
		TriggerReturnAccepted: StatusReturned,
	},
	StatusCompleted: {
		TriggerReturnAccepted: StatusReturned,
	},
}

// ErrHistoryCorrupted indicates a status history that does not replay.
var ErrHistoryCorrupted = errors.New("orders: status history corrupted")

// Next returns the status reached from from by trigger.
func Next(from Status, trigger Trigger) (Status, error) {
	to, ok := transitions[from][trigger]
	if !ok {
		return "", fmt.Errorf("orders: %s from %s: %w", trigger, from, shared.ErrInvalidTransition)
	}
	return to, nil
}

// Machine applies transitions to orders inside a transaction.
type Machine struct {
	now func() time.Time
}

// NewMachine builds Machine.
func NewMachine() *Machine {
	return &Machine{now: func() time.Time { return time.Now().UTC() }}
}

// Apply moves o along trigger, persists it with a version check and appends
// the chained history entry. o is updated in place, including its version.
func (m *Machine) Apply(ctx context.Context, tx TxRepository, o *Order, trigger Trigger, actor string, note *string) (HistoryEntry, error) {
	to, err := Next(o.Status, trigger)
	if err != nil {
		return HistoryEntry{}, err
	}
	last, found, err := tx.LastHistory(ctx, o.ID)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("orders: last history: %w", err)
	}
	entry := HistoryEntry{
		ID:      uuid.New(),
		OrderID: o.ID,
		Seq:     1,
		From:    o.Status,
		To:      to,
		Trigger: trigger,
		Actor:   actor,
		Note:    note,
		At:      m.now().Truncate(time.Microsecond),
	}
	prevHash := ""
	if found {
		entry.Seq = last.Seq + 1
		prevHash = last.Hash
	}
	entry.Hash = chainHash(prevHash, entry)

	o.Status = to
	o.UpdatedAt = entry.At
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return HistoryEntry{}, err
	}
	if err := tx.InsertHistory(ctx, entry); err != nil {
		return HistoryEntry{}, fmt.Errorf("orders: insert history: %w", err)
	}
	return entry, nil
}

// Replay re-applies a history log from draft and returns the final status.
// It fails when an entry does not follow the transition table or the hash
// chain is broken.
func Replay(entries []HistoryEntry) (Status, error) {
	current := StatusDraft
	prevHash := ""
	for i, e := range entries {
		if e.Seq != i+1 {
			return "", fmt.Errorf("%w: entry %d has seq %d", ErrHistoryCorrupted, i+1, e.Seq)
		}
		if e.From != current {
			return "", fmt.Errorf("%w: entry %d starts at %s, expected %s", ErrHistoryCorrupted, e.Seq, e.From, current)
		}
		to, err := Next(current, e.Trigger)
		if err != nil {
			return "", fmt.Errorf("%w: entry %d: %v", ErrHistoryCorrupted, e.Seq, err)
		}
		if to != e.To {
			return "", fmt.Errorf("%w: entry %d reaches %s, recorded %s", ErrHistoryCorrupted, e.Seq, to, e.To)
		}
		if chainHash(prevHash, e) != e.Hash {
			return "", fmt.Errorf("%w: entry %d hash mismatch", ErrHistoryCorrupted, e.Seq)
		}
		prevHash = e.Hash
		current = to
	}
	return current, nil
}

func chainHash(prev string, e HistoryEntry) string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	write(prev)
	write(e.ID.String())
	binary.BigEndian.PutUint64(buf[:], uint64(e.OrderID))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(e.Seq))
	h.Write(buf[:])
	write(string(e.From))
	write(string(e.To))
	write(string(e.Trigger))
	write(e.Actor)
	if e.Note != nil {
		write("1" + *e.Note)
	} else {
		write("0")
	}
	write(e.At.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

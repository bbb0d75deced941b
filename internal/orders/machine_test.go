package orders

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

func TestNextFollowsTable(t *testing.T) {
	cases := []struct {
		from    Status
		trigger Trigger
		want    Status
	}{
		{StatusDraft, TriggerSubmit, StatusPendingInventory},
		{StatusPendingInventory, TriggerInventoryApprove, StatusInventoryApproved},
		{StatusPendingInventory, TriggerInventoryReject, StatusInventoryRejected},
		{StatusInventoryApproved, TriggerForwardAccounting, StatusPendingAccounting},
		{StatusPendingAccounting, TriggerAccountingApprove, StatusApproved},
		{StatusPendingAccounting, TriggerAccountingReject, StatusRejected},
		{StatusApproved, TriggerDispatch, StatusInTransit},
		{StatusInTransit, TriggerDeliverFull, StatusDelivered},
		{StatusInTransit, TriggerDeliverPartial, StatusPartiallyDelivered},
		{StatusPartiallyDelivered, TriggerDeliverPartial, StatusPartiallyDelivered},
		{StatusPartiallyDelivered, TriggerDeliverFull, StatusDelivered},
		{StatusPartiallyDelivered, TriggerReturnAccepted, StatusReturned},
		{StatusDelivered, TriggerFinalize, StatusCompleted},
		{StatusDelivered, TriggerReturnAccepted, StatusReturned},
		{StatusCompleted, TriggerReturnAccepted, StatusReturned},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.trigger)
		require.NoError(t, err, "%s/%s", tc.from, tc.trigger)
		require.Equal(t, tc.want, got)
	}
}

func TestNextRejectsEverythingElse(t *testing.T) {
	allowed := 0
	triggers := []Trigger{
		TriggerSubmit, TriggerInventoryApprove, TriggerInventoryReject, TriggerForwardAccounting,
		TriggerAccountingApprove, TriggerAccountingReject, TriggerDispatch, TriggerDeliverFull,
		TriggerDeliverPartial, TriggerFinalize, TriggerReturnAccepted,
	}
	for _, from := range AllStatuses {
		for _, trigger := range triggers {
			_, err := Next(from, trigger)
			if err == nil {
				allowed++
				if from.IsTerminal() {
					// completed orders stay open to returns only
					require.Equal(t, StatusCompleted, from)
					require.Equal(t, TriggerReturnAccepted, trigger)
				}
				continue
			}
			require.ErrorIs(t, err, shared.ErrInvalidTransition)
		}
	}
	require.Equal(t, 15, allowed)
}

func TestStatusHelpers(t *testing.T) {
	require.Equal(t, "Pending Inventory", StatusPendingInventory.Label())
	require.Equal(t, "Partially Delivered", StatusPartiallyDelivered.Label())
	require.True(t, StatusCompleted.Returnable())
	require.False(t, StatusInTransit.Returnable())
	require.False(t, Status("shipped").Valid())
	require.Equal(t, "shipped", Status("shipped").Label())
}

func TestLabelIsSafeForParallelUse(t *testing.T) {
	want := make(map[Status]string, len(AllStatuses))
	for _, s := range AllStatuses {
		want[s] = s.Label()
	}
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := AllStatuses[(offset+i)%len(AllStatuses)]
				if got := s.Label(); got != want[s] {
					t.Errorf("label of %s = %q, want %q", s, got, want[s])
					return
				}
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, "Inventory Approved", want[StatusInventoryApproved])
}

func chain(t *testing.T, triggers ...Trigger) []HistoryEntry {
	t.Helper()
	var (
		entries []HistoryEntry
		prev    string
	)
	current := StatusDraft
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, trigger := range triggers {
		to, err := Next(current, trigger)
		require.NoError(t, err)
		e := HistoryEntry{ID: uuid.New(), OrderID: 7, Seq: i + 1, From: current, To: to, Trigger: trigger, Actor: "tester", At: at.Add(time.Duration(i) * time.Minute)}
		e.Hash = chainHash(prev, e)
		prev = e.Hash
		current = to
		entries = append(entries, e)
	}
	return entries
}

func TestReplayIsDeterministic(t *testing.T) {
	entries := chain(t, TriggerSubmit, TriggerInventoryApprove, TriggerForwardAccounting, TriggerAccountingApprove, TriggerDispatch, TriggerDeliverPartial, TriggerDeliverFull)
	first, err := Replay(entries)
	require.NoError(t, err)
	second, err := Replay(entries)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, first)
	require.Equal(t, first, second)

	empty, err := Replay(nil)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, empty)
}

func TestReplayDetectsTampering(t *testing.T) {
	entries := chain(t, TriggerSubmit, TriggerInventoryReject)

	tampered := append([]HistoryEntry(nil), entries...)
	tampered[1].Actor = "someone else"
	_, err := Replay(tampered)
	require.True(t, errors.Is(err, ErrHistoryCorrupted))

	reordered := []HistoryEntry{entries[1], entries[0]}
	_, err = Replay(reordered)
	require.ErrorIs(t, err, ErrHistoryCorrupted)

	skipped := append([]HistoryEntry(nil), entries...)
	skipped[1].To = StatusApproved
	_, err = Replay(skipped)
	require.ErrorIs(t, err, ErrHistoryCorrupted)
}

package locktable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyA1 = Key{TripID: 1, SeatID: "A1"}
	keyA2 = Key{TripID: 1, SeatID: "A2"}
	segAB = Segment{From: 0, To: 2}
	segBC = Segment{From: 2, To: 4}
)

// fixedClock pins the table's notion of now so expiry can be tested without
// sleeping.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTable() (*Table, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	tab := New()
	tab.now = clock.now
	return tab, clock
}

func TestTryInsertGrantsAndConflicts(t *testing.T) {
	tab, _ := newTestTable()

	hold, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	require.Nil(t, conflict)
	assert.Equal(t, "u1", hold.Owner)
	assert.True(t, hold.ExpiresAt.After(hold.AcquiredAt))

	_, conflict = tab.TryInsert(keyA1, segAB, "u2", time.Minute)
	require.NotNil(t, conflict)
	assert.Equal(t, "u1", conflict.Holder)
	assert.False(t, conflict.Confirmed)

	// Same owner, same segment: renewed in place, not a conflict.
	again, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	require.Nil(t, conflict)
	assert.Equal(t, hold.AcquiredAt, again.AcquiredAt)
}

func TestDisjointSegmentsShareSeat(t *testing.T) {
	tab, _ := newTestTable()

	_, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	require.Nil(t, conflict)

	// [2,4) does not overlap [0,2): a different passenger may use the same
	// physical seat on the later leg.
	_, conflict = tab.TryInsert(keyA1, segBC, "u2", time.Minute)
	require.Nil(t, conflict)

	// [1,3) overlaps both.
	_, conflict = tab.TryInsert(keyA1, Segment{From: 1, To: 3}, "u3", time.Minute)
	require.NotNil(t, conflict)
}

func TestTryInsertMutualExclusion(t *testing.T) {
	tab, _ := newTestTable()

	const sessions = 64
	var granted int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, conflict := tab.TryInsert(keyA1, segAB, fmt.Sprintf("session-%d", i), time.Minute); conflict == nil {
				atomic.AddInt64(&granted, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), granted, "exactly one concurrent acquire must win")
}

func TestRenewOwnershipAndExpiry(t *testing.T) {
	tab, clock := newTestTable()

	_, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	require.Nil(t, conflict)

	_, st := tab.Renew(keyA1, segAB, "u2", time.Minute)
	assert.Equal(t, StatusNotOwner, st)

	hold, st := tab.Renew(keyA1, segAB, "u1", 2*time.Minute)
	require.Equal(t, StatusOk, st)
	assert.Equal(t, clock.now().Add(2*time.Minute), hold.ExpiresAt)

	// An expired hold is logically absent: renew reports NotFound, not
	// NotOwner, and the seat is free for others.
	clock.advance(3 * time.Minute)
	_, st = tab.Renew(keyA1, segAB, "u1", time.Minute)
	assert.Equal(t, StatusNotFound, st)

	_, conflict = tab.TryInsert(keyA1, segAB, "u2", time.Minute)
	assert.Nil(t, conflict)
}

func TestExpiryBoundary(t *testing.T) {
	tab, clock := newTestTable()

	_, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	require.Nil(t, conflict)

	// Strictly before the boundary the hold is exclusively renewable.
	clock.advance(time.Minute - time.Nanosecond)
	_, st := tab.Renew(keyA1, segAB, "u1", time.Minute)
	assert.Equal(t, StatusOk, st)

	// At acquiredAt+ttl the (renewed) hold is still alive; walk past its
	// new expiry and it must be gone.
	clock.advance(time.Minute)
	_, st = tab.Renew(keyA1, segAB, "u1", time.Minute)
	assert.Equal(t, StatusNotFound, st)
	state, _ := tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateFree, state)
}

func TestSweepExpired(t *testing.T) {
	tab, clock := newTestTable()

	tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	tab.TryInsert(keyA2, segAB, "u2", 5*time.Minute)

	clock.advance(2 * time.Minute)
	expired := tab.SweepExpired(clock.now())
	require.Len(t, expired, 1)
	assert.Equal(t, keyA1, expired[0].Key)

	// Idempotent: a second sweep finds nothing new.
	assert.Empty(t, tab.SweepExpired(clock.now()))

	holds, _ := tab.Counts()
	assert.Equal(t, 1, holds)
}

func TestConcurrentSweepsReportEachHoldOnce(t *testing.T) {
	tab, clock := newTestTable()

	const n = 50
	for i := 0; i < n; i++ {
		_, conflict := tab.TryInsert(Key{TripID: 7, SeatID: fmt.Sprintf("S%d", i)}, segAB, "u1", time.Second)
		require.Nil(t, conflict)
	}
	clock.advance(time.Minute)

	var total int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			atomic.AddInt64(&total, int64(len(tab.SweepExpired(clock.now()))))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(n), total)
}

func TestRemoveAllByOwner(t *testing.T) {
	tab, _ := newTestTable()

	tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	tab.TryInsert(keyA2, segAB, "u1", time.Minute)
	tab.TryInsert(Key{TripID: 2, SeatID: "B4"}, segAB, "u2", time.Minute)

	removed := tab.RemoveAllByOwner("u1")
	assert.Len(t, removed, 2)

	// u2's hold is untouched.
	state, holder := tab.SeatState(Key{TripID: 2, SeatID: "B4"}, segAB)
	assert.Equal(t, StateHeld, state)
	assert.Equal(t, "u2", holder)

	assert.Empty(t, tab.RemoveAllByOwner("u1"))
}

func TestConfirmAllIsAtomic(t *testing.T) {
	tab, _ := newTestTable()

	tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	tab.TryInsert(keyA2, segAB, "u1", time.Minute)
	keyA3 := Key{TripID: 1, SeatID: "A3"}
	// A3 is held by someone else.
	tab.TryInsert(keyA3, segAB, "u2", time.Minute)

	claims := []Claim{
		{Key: keyA1, Segment: segAB},
		{Key: keyA2, Segment: segAB},
		{Key: keyA3, Segment: segAB},
	}
	err := tab.ConfirmAll("u1", claims)
	require.Error(t, err)
	ce, ok := err.(*ConfirmError)
	require.True(t, ok)
	require.Len(t, ce.Failed, 1)
	assert.Equal(t, keyA3, ce.Failed[0].Key)

	// The valid holds were not silently confirmed.
	state, holder := tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateHeld, state)
	assert.Equal(t, "u1", holder)

	err = tab.ConfirmAll("u1", claims[:2])
	require.NoError(t, err)
	state, _ = tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateConfirmed, state)

	// Confirmed is terminal: no fresh hold on an overlapping segment.
	_, conflict := tab.TryInsert(keyA1, Segment{From: 1, To: 3}, "u3", time.Minute)
	require.NotNil(t, conflict)
	assert.True(t, conflict.Confirmed)
}

func TestPrepareConfirmExtendsExpiry(t *testing.T) {
	tab, clock := newTestTable()

	tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	deadline := clock.now().Add(10 * time.Minute)
	require.NoError(t, tab.PrepareConfirm("u1", []Claim{{Key: keyA1, Segment: segAB}}, deadline))

	// The hold now outlives its original TTL, protecting the durable write.
	clock.advance(5 * time.Minute)
	state, holder := tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateHeld, state)
	assert.Equal(t, "u1", holder)
}

func TestPrepareConfirmRejectsExpiredMember(t *testing.T) {
	tab, clock := newTestTable()

	tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	tab.TryInsert(keyA2, segAB, "u1", 10*time.Minute)
	clock.advance(2 * time.Minute) // A1 lapses, A2 survives

	err := tab.PrepareConfirm("u1", []Claim{
		{Key: keyA1, Segment: segAB},
		{Key: keyA2, Segment: segAB},
	}, clock.now().Add(time.Minute))
	require.Error(t, err)
	ce := err.(*ConfirmError)
	require.Len(t, ce.Failed, 1)
	assert.Equal(t, keyA1, ce.Failed[0].Key)

	// A2 is untouched and still held.
	state, _ := tab.SeatState(keyA2, segAB)
	assert.Equal(t, StateHeld, state)
}

func TestUnconfirmAndSeed(t *testing.T) {
	tab, _ := newTestTable()

	claims := []Claim{{Key: keyA1, Segment: segAB}}
	tab.SeedConfirmed(claims)
	state, _ := tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateConfirmed, state)

	tab.Unconfirm(claims)
	state, _ = tab.SeatState(keyA1, segAB)
	assert.Equal(t, StateFree, state)

	// Cancelled seats are not re-locked; a fresh acquire is required and
	// succeeds.
	_, conflict := tab.TryInsert(keyA1, segAB, "u1", time.Minute)
	assert.Nil(t, conflict)
}

func TestConcurrentAcquireConfirmSingleWinnerPerSeat(t *testing.T) {
	tab, _ := newTestTable()

	seats := []string{"A1", "A2", "A3", "A4"}
	confirmedBy := make(map[string][]string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("session-%d", i)
			var claims []Claim
			for _, s := range seats {
				key := Key{TripID: 9, SeatID: s}
				if _, conflict := tab.TryInsert(key, segAB, owner, time.Minute); conflict == nil {
					claims = append(claims, Claim{Key: key, Segment: segAB})
				}
			}
			if len(claims) == 0 {
				return
			}
			if err := tab.ConfirmAll(owner, claims); err == nil {
				mu.Lock()
				for _, c := range claims {
					confirmedBy[c.Key.SeatID] = append(confirmedBy[c.Key.SeatID], owner)
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for seat, owners := range confirmedBy {
		assert.Len(t, owners, 1, "seat %s confirmed by more than one session", seat)
	}
	_, confirmed := tab.Counts()
	assert.Equal(t, len(seats), confirmed)
}

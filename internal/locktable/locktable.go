package locktable

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Table is the authoritative store of active seat holds and confirmed sales.
// It is sharded by (trip, seat) key; every operation on a single key is
// serialized by its shard mutex, so check-then-act sequences such as
// TryInsert are atomic. Operations on different keys interleave freely.
//
// Expired holds are logically absent the moment their expiry passes, even
// when not yet swept: every read and conflict check filters on the current
// time, and SweepExpired only reclaims memory and reports what lapsed.

const shardCount = 64

// Key identifies a physical seat on a specific trip.
type Key struct {
	TripID int64
	SeatID string
}

// Segment is a half-open range [From, To) over a trip's stop indexes. A seat
// sold for stops 0→2 does not block stops 2→4 for another passenger; two
// claims on the same seat conflict iff their ranges overlap.
type Segment struct {
	From int
	To   int
}

func (s Segment) Overlaps(o Segment) bool {
	return s.From < o.To && o.From < s.To
}

func (s Segment) Valid() bool {
	return s.From >= 0 && s.From < s.To
}

func (s Segment) String() string {
	return fmt.Sprintf("[%d,%d)", s.From, s.To)
}

// Hold is a temporary exclusive claim on a seat segment.
type Hold struct {
	Key        Key
	Segment    Segment
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (h Hold) active(now time.Time) bool {
	return now.Before(h.ExpiresAt)
}

// Claim references one hold by its full key, used for multi-seat operations.
type Claim struct {
	Key     Key
	Segment Segment
}

// Conflict describes why TryInsert could not grant a hold. Holder is empty
// when the seat segment is already confirmed-sold.
type Conflict struct {
	Holder    string
	Confirmed bool
}

// Status is the outcome of single-hold mutations.
type Status int

const (
	StatusOk Status = iota
	StatusNotOwner
	StatusNotFound
)

// State is a seat segment's visible state.
type State int

const (
	StateFree State = iota
	StateHeld
	StateConfirmed
)

// ConfirmError reports the claims that failed verification during
// PrepareConfirm or ConfirmAll. The table is left untouched.
type ConfirmError struct {
	Failed []Claim
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("%d claim(s) not held by caller", len(e.Failed))
}

type entry struct {
	holds     []Hold
	confirmed []Segment
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

type Table struct {
	shards [shardCount]shard

	// owner index covers holds only; guarded by ownerMu, which is a leaf
	// lock: it is only ever taken after (or without) a shard lock, never
	// the other way around.
	ownerMu sync.Mutex
	owners  map[string]map[Claim]struct{}

	now func() time.Time
}

func New() *Table {
	t := &Table{
		owners: make(map[string]map[Claim]struct{}),
		now:    time.Now,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[Key]*entry)
	}
	return t
}

func (t *Table) shardFor(key Key) *shard {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s", key.TripID, key.SeatID)
	return &t.shards[h.Sum32()%shardCount]
}

func (t *Table) shardIndex(key Key) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s", key.TripID, key.SeatID)
	return int(h.Sum32() % shardCount)
}

func (t *Table) indexAdd(owner string, c Claim) {
	t.ownerMu.Lock()
	defer t.ownerMu.Unlock()
	set, ok := t.owners[owner]
	if !ok {
		set = make(map[Claim]struct{})
		t.owners[owner] = set
	}
	set[c] = struct{}{}
}

func (t *Table) indexRemove(owner string, c Claim) {
	t.ownerMu.Lock()
	defer t.ownerMu.Unlock()
	if set, ok := t.owners[owner]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(t.owners, owner)
		}
	}
}

// TryInsert grants a hold on key/seg iff no active hold of another owner and
// no confirmed sale overlaps it. Re-acquiring a hold the owner already has
// for the exact segment renews it in place. On conflict the existing
// holder is returned so the caller can tell "locked by me elsewhere" from
// "locked by someone else".
func (t *Table) TryInsert(key Key, seg Segment, owner string, ttl time.Duration) (Hold, *Conflict) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}

	for _, c := range e.confirmed {
		if c.Overlaps(seg) {
			return Hold{}, &Conflict{Confirmed: true}
		}
	}
	for i := range e.holds {
		h := &e.holds[i]
		if !h.active(now) || !h.Segment.Overlaps(seg) {
			continue
		}
		if h.Owner == owner && h.Segment == seg {
			h.ExpiresAt = now.Add(ttl)
			return *h, nil
		}
		return Hold{}, &Conflict{Holder: h.Owner}
	}

	hold := Hold{
		Key:        key,
		Segment:    seg,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	e.holds = append(e.holds, hold)
	t.indexAdd(owner, Claim{Key: key, Segment: seg})
	return hold, nil
}

// Renew extends the expiry of an active hold. Expired holds are NotFound,
// not NotOwner: the claim is logically gone.
func (t *Table) Renew(key Key, seg Segment, owner string, ttl time.Duration) (Hold, Status) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	e, ok := s.entries[key]
	if !ok {
		return Hold{}, StatusNotFound
	}
	for i := range e.holds {
		h := &e.holds[i]
		if h.Segment != seg || !h.active(now) {
			continue
		}
		if h.Owner != owner {
			return Hold{}, StatusNotOwner
		}
		h.ExpiresAt = now.Add(ttl)
		return *h, StatusOk
	}
	return Hold{}, StatusNotFound
}

// Remove deletes an active hold owned by owner.
func (t *Table) Remove(key Key, seg Segment, owner string) (Hold, Status) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	e, ok := s.entries[key]
	if !ok {
		return Hold{}, StatusNotFound
	}
	for i := range e.holds {
		h := e.holds[i]
		if h.Segment != seg || !h.active(now) {
			continue
		}
		if h.Owner != owner {
			return Hold{}, StatusNotOwner
		}
		e.holds = append(e.holds[:i], e.holds[i+1:]...)
		t.indexRemove(owner, Claim{Key: key, Segment: seg})
		return h, StatusOk
	}
	return Hold{}, StatusNotFound
}

// SweepExpired removes every hold whose expiry has passed and returns them.
// Safe to call repeatedly and concurrently; a hold is reported by exactly
// one sweep.
func (t *Table) SweepExpired(now time.Time) []Hold {
	var expired []Hold
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			kept := e.holds[:0]
			for _, h := range e.holds {
				if h.active(now) {
					kept = append(kept, h)
				} else {
					expired = append(expired, h)
					t.indexRemove(h.Owner, Claim{Key: h.Key, Segment: h.Segment})
				}
			}
			e.holds = kept
			if len(e.holds) == 0 && len(e.confirmed) == 0 {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// RemoveAllByOwner releases every hold owned by the given session and
// returns them. Used when a session's transport disconnects.
func (t *Table) RemoveAllByOwner(owner string) []Hold {
	t.ownerMu.Lock()
	claims := make([]Claim, 0, len(t.owners[owner]))
	for c := range t.owners[owner] {
		claims = append(claims, c)
	}
	t.ownerMu.Unlock()

	var removed []Hold
	for _, c := range claims {
		if h, st := t.Remove(c.Key, c.Segment, owner); st == StatusOk {
			removed = append(removed, h)
		}
	}
	return removed
}

// lockClaims locks every shard covering the claims in a fixed order and
// returns an unlock function. Ordered acquisition keeps concurrent
// multi-seat confirms deadlock-free.
func (t *Table) lockClaims(claims []Claim) func() {
	seen := make(map[int]struct{})
	var idx []int
	for _, c := range claims {
		i := t.shardIndex(c.Key)
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		t.shards[i].mu.Lock()
	}
	return func() {
		for _, i := range idx {
			t.shards[i].mu.Unlock()
		}
	}
}

// findHoldLocked returns the active hold matching the claim, or nil. The
// claim's shard must already be locked.
func (t *Table) findHoldLocked(c Claim, now time.Time) *Hold {
	e, ok := t.shardFor(c.Key).entries[c.Key]
	if !ok {
		return nil
	}
	for i := range e.holds {
		h := &e.holds[i]
		if h.Segment == c.Segment && h.active(now) {
			return h
		}
	}
	return nil
}

// PrepareConfirm verifies that every claim is an active hold owned by owner
// and, atomically with that check, extends each hold's expiry to at least
// extendUntil. The extension keeps the holds alive across the durable write
// that follows, so a TTL lapse cannot race the commit. On failure nothing is
// modified and the returned ConfirmError names the claims that were lost.
func (t *Table) PrepareConfirm(owner string, claims []Claim, extendUntil time.Time) error {
	unlock := t.lockClaims(claims)
	defer unlock()

	now := t.now()
	var failed []Claim
	for _, c := range claims {
		h := t.findHoldLocked(c, now)
		if h == nil || h.Owner != owner {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		return &ConfirmError{Failed: failed}
	}
	for _, c := range claims {
		h := t.findHoldLocked(c, now)
		if h.ExpiresAt.Before(extendUntil) {
			h.ExpiresAt = extendUntil
		}
	}
	return nil
}

// ConfirmAll converts the owner's holds into confirmed sales, all or
// nothing. Confirmed is terminal for the seat segment until Unconfirm.
func (t *Table) ConfirmAll(owner string, claims []Claim) error {
	unlock := t.lockClaims(claims)
	defer unlock()

	now := t.now()
	var failed []Claim
	for _, c := range claims {
		h := t.findHoldLocked(c, now)
		if h == nil || h.Owner != owner {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		return &ConfirmError{Failed: failed}
	}

	for _, c := range claims {
		e := t.shardFor(c.Key).entries[c.Key]
		for i := range e.holds {
			if e.holds[i].Segment == c.Segment && e.holds[i].active(now) {
				e.holds = append(e.holds[:i], e.holds[i+1:]...)
				break
			}
		}
		e.confirmed = append(e.confirmed, c.Segment)
		t.indexRemove(owner, c)
	}
	return nil
}

// Unconfirm removes confirmed sale segments, returning the seats to free.
// Used by booking cancellation; the seats are not re-locked.
func (t *Table) Unconfirm(claims []Claim) {
	for _, c := range claims {
		s := t.shardFor(c.Key)
		s.mu.Lock()
		if e, ok := s.entries[c.Key]; ok {
			for i, seg := range e.confirmed {
				if seg == c.Segment {
					e.confirmed = append(e.confirmed[:i], e.confirmed[i+1:]...)
					break
				}
			}
			if len(e.holds) == 0 && len(e.confirmed) == 0 {
				delete(s.entries, c.Key)
			}
		}
		s.mu.Unlock()
	}
}

// SeedConfirmed loads confirmed sales into the table, used at startup to
// rebuild runtime state from the durable seat_sales records.
func (t *Table) SeedConfirmed(claims []Claim) {
	for _, c := range claims {
		s := t.shardFor(c.Key)
		s.mu.Lock()
		e, ok := s.entries[c.Key]
		if !ok {
			e = &entry{}
			s.entries[c.Key] = e
		}
		e.confirmed = append(e.confirmed, c.Segment)
		s.mu.Unlock()
	}
}

// SeatState reports the visible state of one seat segment. The holder is
// returned for held seats so callers can mark the requesting session's own
// holds.
func (t *Table) SeatState(key Key, seg Segment) (State, string) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return StateFree, ""
	}
	for _, c := range e.confirmed {
		if c.Overlaps(seg) {
			return StateConfirmed, ""
		}
	}
	now := t.now()
	for _, h := range e.holds {
		if h.active(now) && h.Segment.Overlaps(seg) {
			return StateHeld, h.Owner
		}
	}
	return StateFree, ""
}

// Counts returns the number of active holds and confirmed sale segments,
// used for gauge metrics.
func (t *Table) Counts() (holds, confirmed int) {
	now := t.now()
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			for _, h := range e.holds {
				if h.active(now) {
					holds++
				}
			}
			confirmed += len(e.confirmed)
		}
		s.mu.Unlock()
	}
	return holds, confirmed
}

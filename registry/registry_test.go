package registry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeNotifier records every notification batch it receives, for
// assertions against the testable properties in spec.md §8.
type fakeNotifier struct {
	batches [][]Notification
}

func (f *fakeNotifier) Deliver(ns []Notification) {
	cp := make([]Notification, len(ns))
	copy(cp, ns)
	f.batches = append(f.batches, cp)
}

func (f *fakeNotifier) flat() []Notification {
	var out []Notification
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// fakeConn is a minimal [Connection] implementation for registry
// tests. It is not the production implementation (that's
// kdbus.Conn), just enough to exercise the state machine.
type fakeConn struct {
	id       uint64
	starter  bool
	notifier *fakeNotifier

	owned  map[*Entry]bool
	queued map[*Waiter]bool
}

func newFakeConn(id uint64) *fakeConn {
	return &fakeConn{
		id:       id,
		notifier: &fakeNotifier{},
		owned:    map[*Entry]bool{},
		queued:   map[*Waiter]bool{},
	}
}

func newStarterConn(id uint64) *fakeConn {
	c := newFakeConn(id)
	c.starter = true
	return c
}

func (c *fakeConn) ID() uint64         { return c.id }
func (c *fakeConn) Starter() bool      { return c.starter }
func (c *fakeConn) Notifier() Notifier { return c.notifier }
func (c *fakeConn) NameCount() int     { return len(c.owned) }

func (c *fakeConn) AttachOwned(e *Entry)   { c.owned[e] = true }
func (c *fakeConn) DetachOwned(e *Entry)   { delete(c.owned, e) }
func (c *fakeConn) AttachQueued(w *Waiter) { c.queued[w] = true }
func (c *fakeConn) DetachQueued(w *Waiter) { delete(c.queued, w) }

func (c *fakeConn) DetachAll() (owned []*Entry, queued []*Waiter) {
	for e := range c.owned {
		owned = append(owned, e)
	}
	for w := range c.queued {
		queued = append(queued, w)
	}
	c.owned = map[*Entry]bool{}
	c.queued = map[*Waiter]bool{}
	return owned, queued
}

func (c *fakeConn) MoveMessagesFrom(src Connection) error { return nil }

type failingMoveConn struct {
	*fakeConn
	err error
}

func (c *failingMoveConn) MoveMessagesFrom(src Connection) error { return c.err }

func TestAcquireFreshCreatesEntry(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)

	res, err := r.Acquire(c1, "com.example.Foo", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if res.Status != Created {
		t.Errorf("Status = %v, want Created", res.Status)
	}
	if res.Entry.Owner() != Connection(c1) {
		t.Errorf("Owner = %v, want c1", res.Entry.Owner())
	}
	if !c1.owned[res.Entry] {
		t.Error("entry not attached to c1.owned")
	}

	want := []Notification{{Kind: Add, OldOwner: 0, NewOwner: 1, Flags: 0, Name: "com.example.Foo"}}
	if diff := cmp.Diff(want, c1.notifier.flat()); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}
}

func TestAcquireInvalidName(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)

	_, err := r.Acquire(c1, ".invalid", 0)
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != InvalidName {
		t.Fatalf("err = %v, want InvalidName", err)
	}
	if _, ok := r.Lookup(".invalid"); ok {
		t.Error("invalid name must not create an entry")
	}
	if len(c1.notifier.batches) != 0 {
		t.Error("invalid name must not emit notifications")
	}
}

func TestAcquireQuotaExceeded(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)
	for i := 0; i < MaxNamesPerConnection; i++ {
		c1.owned[&Entry{}] = true
	}
	_, err := r.Acquire(c1, "com.example.Foo", 0)
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != QuotaExceeded {
		t.Fatalf("err = %v, want QuotaExceeded", err)
	}
}

// Scenario A: no ALLOW_REPLACEMENT, so REPLACE_EXISTING has no effect;
// since the caller also set QUEUE, it is parked on the waiter queue
// rather than rejected outright (names.c:341's fall-through from a
// failed replacement attempt to the queueing path).
func TestScenarioA_NoReplacementAllowed(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)

	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	res, err := r.Acquire(c2, "com.x", ReplaceExisting|Queue)
	if err != nil {
		t.Fatalf("c2 acquire: %v", err)
	}
	if res.Status != Queued {
		t.Errorf("status = %v, want Queued", res.Status)
	}

	e, _ := r.Lookup("com.x")
	if e.Owner() != Connection(c1) {
		t.Errorf("owner = %v, want c1", e.Owner())
	}
	if e.Waiting() != 1 || e.Waiters()[0].Connection != Connection(c2) {
		t.Errorf("waiters = %+v, want [c2]", e.Waiters())
	}
	if len(c2.notifier.batches) != 0 {
		t.Error("no notification should be emitted to c2")
	}
}

// Scenario B: replacement succeeds, displaced owner is not enqueued
// because it never set Queue.
func TestScenarioB_ReplaceNoQueue(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)

	if _, err := r.Acquire(c1, "com.x", AllowReplacement); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	res, err := r.Acquire(c2, "com.x", ReplaceExisting)
	if err != nil {
		t.Fatalf("c2 acquire: %v", err)
	}
	if res.Status != Replaced {
		t.Errorf("status = %v, want Replaced", res.Status)
	}

	e, _ := r.Lookup("com.x")
	if e.Owner() != Connection(c2) {
		t.Errorf("owner = %v, want c2", e.Owner())
	}
	if e.Waiting() != 0 {
		t.Errorf("c1 must not be enqueued, waiting = %d", e.Waiting())
	}

	want := []Notification{
		{Kind: Add, OldOwner: 0, NewOwner: 1, Flags: AllowReplacement, Name: "com.x"},
		{Kind: Change, OldOwner: 1, NewOwner: 2, Flags: ReplaceExisting, Name: "com.x"},
	}
	if diff := cmp.Diff(want, c1.notifier.flat()); diff != "" {
		t.Errorf("c1 notifications (-want +got):\n%s", diff)
	}
}

// Scenario C: incumbent set QUEUE, gets enqueued on replacement, and
// regains ownership when the replacer releases.
func TestScenarioC_ReplaceThenRelease(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)

	if _, err := r.Acquire(c1, "com.x", AllowReplacement|Queue); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	if _, err := r.Acquire(c2, "com.x", ReplaceExisting); err != nil {
		t.Fatalf("c2 acquire: %v", err)
	}

	e, _ := r.Lookup("com.x")
	if e.Owner() != Connection(c2) {
		t.Fatalf("owner after replace = %v, want c2", e.Owner())
	}
	if e.Waiting() != 1 || e.Waiters()[0].Connection != Connection(c1) {
		t.Fatalf("waiters after replace = %+v, want [c1]", e.Waiters())
	}

	if _, err := r.Release(c2, e); err != nil {
		t.Fatalf("c2 release: %v", err)
	}
	if e.Owner() != Connection(c1) {
		t.Errorf("owner after release = %v, want c1", e.Owner())
	}
	if e.Waiting() != 0 {
		t.Errorf("waiters after release = %d, want 0", e.Waiting())
	}

	want := []Notification{
		{Kind: Add, OldOwner: 0, NewOwner: 1, Flags: AllowReplacement | Queue, Name: "com.x"},
		{Kind: Change, OldOwner: 1, NewOwner: 2, Flags: ReplaceExisting, Name: "com.x"},
		{Kind: Change, OldOwner: 2, NewOwner: 1, Flags: AllowReplacement | Queue, Name: "com.x"},
	}
	if diff := cmp.Diff(want, c1.notifier.flat()); diff != "" {
		t.Errorf("c1 notifications (-want +got):\n%s", diff)
	}
}

// Scenario D: starter handoff and final release destroys the entry.
func TestScenarioD_StarterHandoff(t *testing.T) {
	r := New()
	s := newStarterConn(1)
	c1 := newFakeConn(2)

	res, err := r.Acquire(s, "com.x", Queue) // requested flags ignored: forced to AllowReplacement
	if err != nil {
		t.Fatalf("starter acquire: %v", err)
	}
	if res.Flags != AllowReplacement {
		t.Errorf("starter acquire flags = %v, want AllowReplacement", res.Flags)
	}

	e, _ := r.Lookup("com.x")
	if e.Starter() != Connection(s) {
		t.Fatalf("starter not recorded")
	}

	if _, err := r.Acquire(c1, "com.x", ReplaceExisting); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	if e.Starter() != nil {
		t.Error("starter must be cleared after replacement")
	}

	if _, err := r.Release(c1, e); err != nil {
		t.Fatalf("c1 release: %v", err)
	}
	if _, ok := r.Lookup("com.x"); ok {
		t.Error("entry must be destroyed: no waiters, no starter")
	}

	// s (the starter) is a target only of the first two transitions:
	// by the time the entry is destroyed, it no longer holds the
	// starter slot and has no remaining stake, so it is not among the
	// Remove notification's targets.
	wantStarter := []Notification{
		{Kind: Add, OldOwner: 0, NewOwner: 1, Flags: AllowReplacement, Name: "com.x"},
		{Kind: Change, OldOwner: 1, NewOwner: 2, Flags: ReplaceExisting, Name: "com.x"},
	}
	if diff := cmp.Diff(wantStarter, s.notifier.flat()); diff != "" {
		t.Errorf("starter notifications (-want +got):\n%s", diff)
	}

	wantC1 := []Notification{
		{Kind: Change, OldOwner: 1, NewOwner: 2, Flags: ReplaceExisting, Name: "com.x"},
		{Kind: Remove, OldOwner: 2, NewOwner: 0, Flags: ReplaceExisting, Name: "com.x"},
	}
	if diff := cmp.Diff(wantC1, c1.notifier.flat()); diff != "" {
		t.Errorf("c1 notifications (-want +got):\n%s", diff)
	}
}

// Scenario E: a withdrawn (purged) waiter produces no notification.
func TestScenarioE_PurgeWithdrawsQueueSilently(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)

	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	if _, err := r.Acquire(c2, "com.x", Queue); err != nil {
		t.Fatalf("c2 acquire: %v", err)
	}
	e, _ := r.Lookup("com.x")
	if e.Waiting() != 1 {
		t.Fatalf("waiting = %d, want 1", e.Waiting())
	}

	c2.notifier.batches = nil
	r.PurgeConnection(c2)

	if e.Waiting() != 0 {
		t.Errorf("waiting after purge = %d, want 0", e.Waiting())
	}
	if e.Owner() != Connection(c1) {
		t.Errorf("owner after purge = %v, want c1", e.Owner())
	}
	if len(c2.notifier.batches) != 0 {
		t.Error("withdrawn waiter must not be notified")
	}
}

// Scenario F: invalid name never creates an entry (duplicate of the
// unit test above, phrased as the spec's scenario).
func TestScenarioF_InvalidNameRejected(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)
	if _, err := r.Acquire(c1, ".x", 0); err == nil {
		t.Fatal("expected error for invalid name")
	}
	if _, ok := r.Lookup(".x"); ok {
		t.Error("invalid name must not create an entry")
	}
}

// Scenario G: purging the owner while a queued waiter exists hands
// ownership to the waiter, with one notification delivered to both.
func TestScenarioG_PurgeOwnerHandsToWaiter(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)

	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("c1 acquire: %v", err)
	}
	if _, err := r.Acquire(c2, "com.x", Queue); err != nil {
		t.Fatalf("c2 acquire: %v", err)
	}

	c1.notifier.batches = nil
	c2.notifier.batches = nil
	r.PurgeConnection(c1)

	e, _ := r.Lookup("com.x")
	if e.Owner() != Connection(c2) {
		t.Fatalf("owner after purge = %v, want c2", e.Owner())
	}
	if e.Waiting() != 0 {
		t.Errorf("waiting after purge = %d, want 0", e.Waiting())
	}

	want := []Notification{{Kind: Change, OldOwner: 1, NewOwner: 2, Flags: Queue, Name: "com.x"}}
	if diff := cmp.Diff(want, c1.notifier.flat()); diff != "" {
		t.Errorf("c1 notifications (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, c2.notifier.flat()); diff != "" {
		t.Errorf("c2 notifications (-want +got):\n%s", diff)
	}
}

func TestReleaseNotPermitted(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)
	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	e, _ := r.Lookup("com.x")

	_, err := r.Release(c2, e)
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != NotPermitted {
		t.Fatalf("err = %v, want NotPermitted", err)
	}
}

func TestReleaseWithdrawFromQueue(t *testing.T) {
	r := New()
	c1, c2 := newFakeConn(1), newFakeConn(2)
	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := r.Acquire(c2, "com.x", Queue); err != nil {
		t.Fatalf("queue: %v", err)
	}
	e, _ := r.Lookup("com.x")

	status, err := r.Release(c2, e)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if status != ReleasedWaiter {
		t.Errorf("status = %v, want ReleasedWaiter", status)
	}
	if e.Waiting() != 0 {
		t.Errorf("waiting = %d, want 0", e.Waiting())
	}
	if len(c2.queued) != 0 {
		t.Error("c2.queued must be empty after withdrawal")
	}
}

func TestAcquireAlreadyOwnerUpdatesFlags(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)
	if _, err := r.Acquire(c1, "com.x", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	res, err := r.Acquire(c1, "com.x", AllowReplacement)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if res.Status != AlreadyOwner {
		t.Errorf("status = %v, want AlreadyOwner", res.Status)
	}
	e, _ := r.Lookup("com.x")
	if e.Flags() != AllowReplacement {
		t.Errorf("flags = %v, want AllowReplacement", e.Flags())
	}
}

func TestReplaceAbortsOnMoveMessagesFailure(t *testing.T) {
	r := New()
	s := newStarterConn(1)
	if _, err := r.Acquire(s, "com.x", 0); err != nil {
		t.Fatalf("starter acquire: %v", err)
	}
	e, _ := r.Lookup("com.x")

	wantErr := errors.New("boom")
	c1 := &failingMoveConn{fakeConn: newFakeConn(2), err: wantErr}

	_, err := r.Acquire(c1, "com.x", ReplaceExisting)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	if e.Owner() != Connection(s) {
		t.Errorf("owner after aborted replace = %v, want starter", e.Owner())
	}
	if e.Starter() != Connection(s) {
		t.Error("starter must remain set after aborted replace")
	}
	if e.Waiting() != 0 {
		t.Errorf("waiting after aborted replace = %d, want 0", e.Waiting())
	}
}

func TestRoundTripAcquireRelease(t *testing.T) {
	r := New()
	c1 := newFakeConn(1)

	if _, err := r.Acquire(c1, "com.x", AllowReplacement); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := r.Release(c1, mustLookup(t, r, "com.x")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := r.Lookup("com.x"); ok {
		t.Error("entry must not survive a round trip")
	}
}

func mustLookup(t *testing.T, r *Registry, name string) *Entry {
	t.Helper()
	e, ok := r.Lookup(name)
	if !ok {
		t.Fatalf("Lookup(%q): not found", name)
	}
	return e
}

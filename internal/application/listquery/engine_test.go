package listquery

import (
	"context"
	"testing"
	"time"

	"libres/internal/application/remote"
	"libres/internal/domain/request"
)

// manualFetcher hands each fetch to the test, which replies when it wants.
type manualFetcher struct {
	calls chan *fetchCall
}

type fetchCall struct {
	q     remote.Query
	reply chan fetchReply
}

type fetchReply struct {
	page remote.Page
	err  error
}

func newManualFetcher() *manualFetcher {
	return &manualFetcher{calls: make(chan *fetchCall, 16)}
}

func (f *manualFetcher) ListRequests(_ context.Context, q remote.Query) (remote.Page, error) {
	c := &fetchCall{q: q, reply: make(chan fetchReply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.page, r.err
}

// expectCall waits for one fetch.
func (f *manualFetcher) expectCall(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fetch, none was issued")
		return nil
	}
}

// expectNoCall asserts that no fetch arrives within a short grace period.
func (f *manualFetcher) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch issued: %+v", c.q)
	case <-time.After(100 * time.Millisecond):
	}
}

// manualScheduler records debounce timers so tests fire them explicitly.
type manualScheduler struct {
	fns       []func()
	cancelled []bool
}

func (s *manualScheduler) schedule(_ time.Duration, fn func()) func() {
	i := len(s.fns)
	s.fns = append(s.fns, fn)
	s.cancelled = append(s.cancelled, false)
	return func() { s.cancelled[i] = true }
}

// firePending runs every scheduled timer that was not cancelled.
func (s *manualScheduler) firePending() {
	for i, fn := range s.fns {
		if !s.cancelled[i] {
			s.cancelled[i] = true
			fn()
		}
	}
}

func (s *manualScheduler) pendingCount() int {
	n := 0
	for _, c := range s.cancelled {
		if !c {
			n++
		}
	}
	return n
}

func recordsPage(status string, ids ...string) remote.Page {
	recs := make([]request.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, request.Record{ID: id, Kind: request.KindBooking, Status: status, Activity: "Diskusi", Participants: 2})
	}
	return remote.Page{Records: recs, Page: 1, Pages: 1, Total: len(recs)}
}

func newTestEngine(t *testing.T, f Fetcher, sched *manualScheduler) (*Engine, chan Results) {
	t.Helper()
	results := make(chan Results, 16)
	cfg := Config{
		Fetcher:   f,
		OnResults: func(r Results) { results <- r },
	}
	if sched != nil {
		cfg.Schedule = sched.schedule
	}
	return New(context.Background(), cfg), results
}

// TestSearch_DebouncedSingleFetch tests that "a" then "ab" typed inside the
// debounce window issues exactly one fetch, using "ab".
func TestSearch_DebouncedSingleFetch(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, results := newTestEngine(t, f, sched)

	e.SetSearch("a") // below threshold, no timer, no fetch
	e.SetSearch("ab")
	f.expectNoCall(t) // nothing fires until the window elapses

	sched.firePending()
	call := f.expectCall(t)
	if call.q.Search != "ab" {
		t.Errorf("fetch search = %q, want ab", call.q.Search)
	}
	if call.q.Page != 1 {
		t.Errorf("fetch page = %d, want 1", call.q.Page)
	}
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1")}
	<-results

	f.expectNoCall(t)
}

// TestSearch_BelowThresholdNoFetch tests that short input alone never fetches.
func TestSearch_BelowThresholdNoFetch(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, _ := newTestEngine(t, f, sched)

	e.SetSearch("a")
	if sched.pendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0", sched.pendingCount())
	}
	sched.firePending()
	f.expectNoCall(t)
}

// TestSearch_RetypeSupersedesTimer tests that a newer keystroke cancels the
// older timer so only the final value fetches.
func TestSearch_RetypeSupersedesTimer(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, results := newTestEngine(t, f, sched)

	e.SetSearch("ab")
	e.SetSearch("abc")
	if sched.pendingCount() != 1 {
		t.Errorf("pending timers = %d, want 1", sched.pendingCount())
	}

	sched.firePending()
	call := f.expectCall(t)
	if call.q.Search != "abc" {
		t.Errorf("fetch search = %q, want abc", call.q.Search)
	}
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1")}
	<-results
	f.expectNoCall(t)
}

// TestSearch_ClearingActiveFilterRefetches tests that dropping below the
// threshold clears the active filter with one fetch.
func TestSearch_ClearingActiveFilterRefetches(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, results := newTestEngine(t, f, sched)

	e.SetSearch("ab")
	sched.firePending()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1")}
	<-results

	e.SetSearch("a")
	sched.firePending()
	call = f.expectCall(t)
	if call.q.Search != "" {
		t.Errorf("fetch search = %q, want cleared", call.q.Search)
	}
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1", "r2")}
	<-results
}

// TestSearch_SameEffectiveValueNoFetch tests that re-typing a value equal
// to the active filter does not re-fetch.
func TestSearch_SameEffectiveValueNoFetch(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, results := newTestEngine(t, f, sched)

	e.SetSearch("ab")
	sched.firePending()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1")}
	<-results

	e.SetSearch("ab")
	if sched.pendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0 when value unchanged", sched.pendingCount())
	}
	f.expectNoCall(t)
}

// TestSearch_LateTimerAfterNoChangeInputDiscarded tests that a timer whose
// cancellation raced with its firing cannot commit a superseded term. The
// scheduler's cancel is a no-op, like time.AfterFunc Stop returning false
// once the callback has already started.
func TestSearch_LateTimerAfterNoChangeInputDiscarded(t *testing.T) {
	f := newManualFetcher()
	var timers []func()
	results := make(chan Results, 16)
	e := New(context.Background(), Config{
		Fetcher:   f,
		OnResults: func(r Results) { results <- r },
		Schedule: func(_ time.Duration, fn func()) func() {
			timers = append(timers, fn)
			return func() {}
		},
	})

	e.SetSearch("ab")
	e.SetSearch("a") // below threshold; the filter must stay cleared

	// The "ab" timer fires anyway, as if its Stop came too late.
	for _, fn := range timers {
		fn()
	}
	f.expectNoCall(t)

	if st := e.QueryState(); st.DebouncedSearch != "" {
		t.Errorf("debounced search = %q, want cleared", st.DebouncedSearch)
	}
}

// TestStatusFilter_RaceStaleResponseDiscarded tests the core race rule: a
// late response for a superseded query must not overwrite newer results.
func TestStatusFilter_RaceStaleResponseDiscarded(t *testing.T) {
	f := newManualFetcher()
	e, results := newTestEngine(t, f, nil)

	e.SetStatusFilter(request.StatusPending)
	first := f.expectCall(t)

	e.SetStatusFilter(request.StatusApproved)
	second := f.expectCall(t)

	// The newer query resolves first.
	second.reply <- fetchReply{page: recordsPage(request.StatusApproved, "a1", "a2")}
	res := <-results
	if len(res.Records) != 2 || res.Records[0].Status != request.StatusApproved {
		t.Fatalf("unexpected results: %+v", res)
	}

	// The stale response arrives afterwards and must be dropped.
	first.reply <- fetchReply{page: recordsPage(request.StatusPending, "p1")}
	select {
	case r := <-results:
		t.Fatalf("stale response was applied: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	got := e.Results()
	if len(got.Records) != 2 || got.Records[0].Status != request.StatusApproved {
		t.Errorf("state overwritten by stale response: %+v", got)
	}
}

// TestFilterChangeResetsPage tests that filter changes reset the page while
// page navigation alone does not.
func TestFilterChangeResetsPage(t *testing.T) {
	f := newManualFetcher()
	e, results := newTestEngine(t, f, nil)

	e.Refresh()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: remote.Page{Records: nil, Page: 1, Pages: 5, Total: 100}}
	<-results

	e.SetPage(3)
	call = f.expectCall(t)
	if call.q.Page != 3 {
		t.Errorf("page navigation fetched page %d, want 3", call.q.Page)
	}
	call.reply <- fetchReply{page: remote.Page{Page: 3, Pages: 5, Total: 100}}
	<-results

	e.SetStatusFilter(request.StatusPending)
	call = f.expectCall(t)
	if call.q.Page != 1 {
		t.Errorf("filter change fetched page %d, want reset to 1", call.q.Page)
	}
	call.reply <- fetchReply{page: remote.Page{Page: 1, Pages: 2, Total: 30}}
	<-results
}

// TestSetPage_Clamping tests pagination bounds and navigation shortcuts.
func TestSetPage_Clamping(t *testing.T) {
	f := newManualFetcher()
	e, results := newTestEngine(t, f, nil)

	e.Refresh()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: remote.Page{Page: 1, Pages: 5, Total: 100}}
	<-results

	// Page 0 clamps to 1, which is current, so no fetch.
	e.SetPage(0)
	f.expectNoCall(t)

	// Beyond the last page clamps to totalPages.
	e.SetPage(99)
	call = f.expectCall(t)
	if call.q.Page != 5 {
		t.Errorf("fetched page %d, want clamped 5", call.q.Page)
	}
	call.reply <- fetchReply{page: remote.Page{Page: 5, Pages: 5, Total: 100}}
	<-results

	// Next at the last page stays put.
	e.Next()
	f.expectNoCall(t)

	e.Prev()
	call = f.expectCall(t)
	if call.q.Page != 4 {
		t.Errorf("Prev fetched page %d, want 4", call.q.Page)
	}
	call.reply <- fetchReply{page: remote.Page{Page: 4, Pages: 5, Total: 100}}
	<-results

	e.First()
	call = f.expectCall(t)
	if call.q.Page != 1 {
		t.Errorf("First fetched page %d, want 1", call.q.Page)
	}
	call.reply <- fetchReply{page: remote.Page{Page: 1, Pages: 5, Total: 100}}
	<-results
}

// TestFetchError_KeepsResults tests that a failed fetch surfaces a message
// and leaves the current records alone.
func TestFetchError_KeepsResults(t *testing.T) {
	f := newManualFetcher()
	errs := make(chan string, 1)
	results := make(chan Results, 16)
	e := New(context.Background(), Config{
		Fetcher:   f,
		OnResults: func(r Results) { results <- r },
		OnError:   func(msg string) { errs <- msg },
	})

	e.Refresh()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: recordsPage(request.StatusPending, "r1")}
	<-results

	e.SetStatusFilter(request.StatusApproved)
	call = f.expectCall(t)
	call.reply <- fetchReply{err: &remote.Error{StatusCode: 500, Message: "database error"}}

	select {
	case msg := <-errs:
		if msg != "database error" {
			t.Errorf("error message = %q, want verbatim gateway message", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never called")
	}

	got := e.Results()
	if len(got.Records) != 1 || got.Records[0].ID != "r1" {
		t.Errorf("records changed on fetch failure: %+v", got.Records)
	}
}

// TestPatchAndRemove tests the cache surface used by the lifecycle engine.
func TestPatchAndRemove(t *testing.T) {
	f := newManualFetcher()
	e, results := newTestEngine(t, f, nil)

	e.Refresh()
	call := f.expectCall(t)
	page := recordsPage(request.StatusPending, "r1", "r2")
	page.Total = 2
	call.reply <- fetchReply{page: page}
	<-results

	rec, ok := e.Get("r1")
	if !ok {
		t.Fatal("record r1 not found")
	}
	rec.Status = request.StatusApproved
	rec.AdminNote = "ok"
	e.Patch(rec)

	got, _ := e.Get("r1")
	if got.Status != request.StatusApproved || got.AdminNote != "ok" {
		t.Errorf("patch not applied: %+v", got)
	}

	e.Remove("r2")
	if _, ok := e.Get("r2"); ok {
		t.Error("record r2 still present after Remove")
	}
	if e.Results().Total != 1 {
		t.Errorf("total = %d, want 1 after removal", e.Results().Total)
	}
}

// TestQueryState tests the snapshot used to render controls.
func TestQueryState(t *testing.T) {
	f := newManualFetcher()
	sched := &manualScheduler{}
	e, results := newTestEngine(t, f, sched)

	e.SetSearch("ru")
	sched.firePending()
	call := f.expectCall(t)
	call.reply <- fetchReply{page: remote.Page{Page: 1, Pages: 1, Total: 0}}
	<-results

	st := e.QueryState()
	if st.SearchTerm != "ru" || st.DebouncedSearch != "ru" {
		t.Errorf("search state = %q/%q", st.SearchTerm, st.DebouncedSearch)
	}
	if st.SortBy != "createdAt" || st.SortOrder != "desc" {
		t.Errorf("default sort = %s %s", st.SortBy, st.SortOrder)
	}
	if st.PageSize != DefaultPageSize {
		t.Errorf("page size = %d, want default", st.PageSize)
	}
}

// Package listquery maintains the search/filter/sort/page state behind an
// admin listing and drives re-fetching. It debounces free-text search,
// discards responses that no longer match the latest issued query, and
// keeps the page number inside [1, totalPages].
package listquery

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"libres/internal/application/remote"
	"libres/internal/domain/request"
)

// Fetcher is the listing surface the engine re-fetches from.
type Fetcher interface {
	ListRequests(ctx context.Context, q remote.Query) (remote.Page, error)
}

// MinSearchLen is the number of characters a search term needs before it
// becomes an active filter; shorter input clears the filter.
const MinSearchLen = 2

// DefaultWindow is the debounce quiet interval for free-text search.
const DefaultWindow = 400 * time.Millisecond

// DefaultPageSize is the default number of rows per page.
const DefaultPageSize = 20

// PageSizeOptions are the allowed rows-per-page values.
var PageSizeOptions = []int{10, 20, 50, 100}

// AllowedSortFields are the sort columns the gateway accepts.
var AllowedSortFields = []string{"createdAt", "startTime", "activityName", "status"}

// Results is the applied outcome of the latest fetch.
type Results struct {
	Records    []request.Record
	Page       int
	TotalPages int
	Total      int
}

// State is a snapshot of the query parameters for rendering controls.
type State struct {
	SearchTerm      string
	DebouncedSearch string
	Status          string
	SortBy          string
	SortOrder       string
	StartDate       string
	EndDate         string
	Page            int
	PageSize        int
	TotalPages      int
	Total           int
}

// Config wires an Engine. Zero values get defaults; Schedule is a test
// seam and defaults to time.AfterFunc.
type Config struct {
	Fetcher   Fetcher
	Window    time.Duration
	PageSize  int
	SortBy    string
	SortOrder string
	OnResults func(Results)
	OnError   func(msg string)
	Schedule  func(d time.Duration, fn func()) (cancel func())
}

// Engine holds the query state and the current page of records. All
// mutation happens through its methods; the lifecycle engine patches
// records through the Cache methods.
type Engine struct {
	mu  sync.Mutex
	ctx context.Context
	cfg Config

	searchTerm string
	debounced  string
	status     string
	sortBy     string
	sortOrder  string
	startDate  string
	endDate    string
	page       int
	pageSize   int
	totalPages int
	total      int

	records []request.Record

	gen            uint64 // latest issued fetch; older responses are discarded
	dseq           uint64 // latest debounce schedule; older timers are discarded
	cancelDebounce func()
}

// New creates an Engine. ctx bounds all fetches the engine issues.
func New(ctx context.Context, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if !isAllowedPageSize(cfg.PageSize) {
		cfg.PageSize = DefaultPageSize
	}
	if !isAllowedSortField(cfg.SortBy) {
		cfg.SortBy = "createdAt"
	}
	if cfg.SortOrder != "asc" && cfg.SortOrder != "desc" {
		cfg.SortOrder = "desc"
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &Engine{
		ctx:        ctx,
		cfg:        cfg,
		sortBy:     cfg.SortBy,
		sortOrder:  cfg.SortOrder,
		page:       1,
		pageSize:   cfg.PageSize,
		totalPages: 1,
	}
}

// SetSearch records keystroke-level input. The filter only activates once
// the input has been stable for the debounce window and is at least
// MinSearchLen characters; shorter input clears the active filter.
// PRE: none
// POST: at most one debounce timer is pending, carrying the latest input
func (e *Engine) SetSearch(term string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.searchTerm = term
	effective := term
	if utf8.RuneCountInString(term) < MinSearchLen {
		effective = ""
	}

	// Every keystroke invalidates in-flight timers, including on the
	// no-change path below: a timer whose callback has already started
	// when cancel runs would otherwise pass the staleness check and
	// commit a superseded term.
	e.dseq++

	if e.cancelDebounce != nil {
		e.cancelDebounce()
		e.cancelDebounce = nil
	}
	if effective == e.debounced {
		return
	}

	seq := e.dseq
	e.cancelDebounce = e.cfg.Schedule(e.cfg.Window, func() {
		e.applyDebounced(seq, effective)
	})
}

// applyDebounced commits a quiesced search term. A stale timer (one whose
// schedule was superseded before it fired) is discarded.
func (e *Engine) applyDebounced(seq uint64, effective string) {
	e.mu.Lock()
	if seq != e.dseq || effective == e.debounced {
		e.mu.Unlock()
		return
	}
	e.debounced = effective
	e.page = 1
	e.fetchLocked()
	e.mu.Unlock()
}

// SetStatusFilter filters by lifecycle status; empty means all.
// PRE: none
// POST: page reset to 1 and one re-fetch issued if the filter changed
func (e *Engine) SetStatusFilter(status string) {
	if status != "" && !request.IsValidStatus(status) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if status == e.status {
		return
	}
	e.status = status
	e.page = 1
	e.fetchLocked()
}

// SetSort changes the sort column and direction. Unknown columns are
// ignored; order defaults to asc when invalid.
// PRE: none
// POST: page reset to 1 and one re-fetch issued if the sort changed
func (e *Engine) SetSort(field, order string) {
	if !isAllowedSortField(field) {
		return
	}
	if order != "asc" && order != "desc" {
		order = "asc"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if field == e.sortBy && order == e.sortOrder {
		return
	}
	e.sortBy = field
	e.sortOrder = order
	e.page = 1
	e.fetchLocked()
}

// SetDateRange filters tour listings to an inclusive YYYY-MM-DD range.
// Empty strings clear the bounds.
// PRE: none
// POST: page reset to 1 and one re-fetch issued if the range changed
func (e *Engine) SetDateRange(start, end string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if start == e.startDate && end == e.endDate {
		return
	}
	e.startDate = start
	e.endDate = end
	e.page = 1
	e.fetchLocked()
}

// SetPage navigates to a page, clamped into [1, totalPages]. Changing only
// the page does not reset it and issues exactly one re-fetch.
// PRE: none
// POST: page is inside [1, totalPages]
func (e *Engine) SetPage(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n = clamp(n, 1, e.totalPages)
	if n == e.page {
		return
	}
	e.page = n
	e.fetchLocked()
}

// First navigates to the first page.
func (e *Engine) First() { e.SetPage(1) }

// Prev navigates one page back, clamped.
func (e *Engine) Prev() {
	e.mu.Lock()
	n := e.page - 1
	e.mu.Unlock()
	e.SetPage(n)
}

// Next navigates one page forward, clamped.
func (e *Engine) Next() {
	e.mu.Lock()
	n := e.page + 1
	e.mu.Unlock()
	e.SetPage(n)
}

// Last navigates to the last known page.
func (e *Engine) Last() {
	e.mu.Lock()
	n := e.totalPages
	e.mu.Unlock()
	e.SetPage(n)
}

// SetPageSize changes rows per page to one of PageSizeOptions.
// PRE: none
// POST: page reset to 1 and one re-fetch issued if the size changed
func (e *Engine) SetPageSize(n int) {
	if !isAllowedPageSize(n) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == e.pageSize {
		return
	}
	e.pageSize = n
	e.page = 1
	e.fetchLocked()
}

// Refresh re-fetches the current query, for example after a lifecycle
// transition when filtered or sorted correctness matters more than latency.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchLocked()
}

// fetchLocked issues a fetch for the current query state. The generation
// counter marks this fetch as the latest; any response carrying an older
// generation is discarded at application time.
// PRE: e.mu is held
func (e *Engine) fetchLocked() {
	e.gen++
	gen := e.gen
	q := remote.Query{
		Page:      e.page,
		Limit:     e.pageSize,
		Search:    e.debounced,
		Status:    e.status,
		SortBy:    e.sortBy,
		SortOrder: e.sortOrder,
		StartDate: e.startDate,
		EndDate:   e.endDate,
	}
	go e.run(gen, q)
}

// run performs one fetch and applies its outcome if it is still the latest.
func (e *Engine) run(gen uint64, q remote.Query) {
	page, err := e.cfg.Fetcher.ListRequests(e.ctx, q)

	e.mu.Lock()
	if gen != e.gen {
		// A newer query was issued while this one was in flight.
		e.mu.Unlock()
		slog.Debug("list_event", "event", "stale_response_discarded", "gen", gen)
		return
	}
	if err != nil {
		onError := e.cfg.OnError
		e.mu.Unlock()
		slog.Info("list_event", "event", "fetch_failed", "error", err)
		if onError != nil {
			onError(remote.Message(err))
		}
		return
	}

	e.records = page.Records
	e.total = page.Total
	e.totalPages = page.Pages
	if e.totalPages < 1 {
		e.totalPages = 1
	}
	if page.Page >= 1 {
		e.page = clamp(page.Page, 1, e.totalPages)
	}
	res := Results{
		Records:    append([]request.Record(nil), e.records...),
		Page:       e.page,
		TotalPages: e.totalPages,
		Total:      e.total,
	}
	onResults := e.cfg.OnResults
	e.mu.Unlock()

	if onResults != nil {
		onResults(res)
	}
}

// Results returns a copy of the current page of records and pagination
// metadata.
func (e *Engine) Results() Results {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Results{
		Records:    append([]request.Record(nil), e.records...),
		Page:       e.page,
		TotalPages: e.totalPages,
		Total:      e.total,
	}
}

// QueryState returns a snapshot of the query parameters.
func (e *Engine) QueryState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		SearchTerm:      e.searchTerm,
		DebouncedSearch: e.debounced,
		Status:          e.status,
		SortBy:          e.sortBy,
		SortOrder:       e.sortOrder,
		StartDate:       e.startDate,
		EndDate:         e.endDate,
		Page:            e.page,
		PageSize:        e.pageSize,
		TotalPages:      e.totalPages,
		Total:           e.total,
	}
}

// Get returns a record from the current page by id.
func (e *Engine) Get(id string) (request.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.records {
		if r.ID == id {
			return r, true
		}
	}
	return request.Record{}, false
}

// Patch replaces a record on the current page after a confirmed
// transition. Unknown ids are ignored; the next fetch reconciles.
func (e *Engine) Patch(rec request.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.records {
		if r.ID == rec.ID {
			e.records[i] = rec
			return
		}
	}
}

// Remove drops a record from the current page after a confirmed deletion.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.records {
		if r.ID == id {
			e.records = append(e.records[:i], e.records[i+1:]...)
			if e.total > 0 {
				e.total--
			}
			return
		}
	}
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func isAllowedPageSize(n int) bool {
	for _, opt := range PageSizeOptions {
		if n == opt {
			return true
		}
	}
	return false
}

func isAllowedSortField(f string) bool {
	for _, a := range AllowedSortFields {
		if f == a {
			return true
		}
	}
	return false
}

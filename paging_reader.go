package pagebatch

import (
	"context"

	"github.com/pkg/errors"
)

// DefaultPageSize page size of a PagingReader created with a non-positive size
const DefaultPageSize = 10

// Cursor restart position of a PagingReader
type Cursor struct {
	//PageIndex page holding the next unread record
	PageIndex int `json:"pageIndex"`
	//Offset records of page PageIndex already delivered
	Offset int `json:"offset"`
	//SkipCount records delivered since the step began, across restarts
	SkipCount int64 `json:"skipCount"`
	//Keys delivered record keys, kept by always-from-zero paging with a key
	Keys      []string `json:"keys,omitempty"`
	Exhausted bool     `json:"exhausted,omitempty"`
}

type readerState int

const (
	stateEmptyCache readerState = iota
	stateFetching
	stateCached
	stateDraining
	stateExhausted
)

func (s readerState) String() string {
	return [...]string{"EMPTY_CACHE", "FETCHING", "CACHED", "DRAINING", "EXHAUSTED"}[s]
}

// PagingReader reads one record at a time from pages returned by a PageFetcher
type PagingReader struct {
	fetcher  PageFetcher
	tracker  DeliveryTracker
	pageSize int

	state     readerState
	page      []interface{}
	pageBase  int
	pos       int
	lastPage  bool
	nextPage  int
	skipNext  int
	delivered int64
}

// NewPagingReader reader over fetcher; pageSize <= 0 means DefaultPageSize
func NewPagingReader(fetcher PageFetcher, pageSize int) *PagingReader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	r := &PagingReader{fetcher: fetcher, pageSize: pageSize}
	if t, ok := fetcher.(DeliveryTracker); ok {
		r.tracker = t
	}
	return r
}

// Read next record in fetch order, EndOfData once the last page is drained
func (r *PagingReader) Read(ctx context.Context, chunkCtx *ChunkContext) (interface{}, BatchError) {
	for {
		switch r.state {
		case stateExhausted:
			return nil, EndOfData
		case stateCached, stateDraining:
			if r.pos < len(r.page) {
				item := r.page[r.pos]
				r.pos++
				r.state = stateDraining
				r.delivered++
				if r.tracker != nil {
					r.tracker.Delivered(item)
				}
				return item, nil
			}
			if r.lastPage {
				r.state = stateExhausted
				r.page = nil
				continue
			}
			r.state = stateEmptyCache
		case stateEmptyCache, stateFetching:
			if err := r.fetch(ctx); err != nil {
				return nil, err
			}
		}
	}
}

func (r *PagingReader) fetch(ctx context.Context) BatchError {
	r.state = stateFetching
	pageIndex := r.nextPage
	page, exhausted, err := r.fetcher.FetchPage(ctx, pageIndex, r.pageSize)
	r.nextPage++
	if err != nil {
		r.state = stateEmptyCache
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return NewBatchError(ErrCodeTimeout, "fetch page:%v timed out", pageIndex, err)
		}
		return NewBatchError(ErrCodeFetch, "fetch page:%v failed", pageIndex, err)
	}
	// a window without any new record cannot be followed by one
	if len(page) == 0 {
		exhausted = true
	}
	base := 0
	if r.skipNext > 0 {
		base = r.skipNext
		if base > len(page) {
			base = len(page)
		}
		page = page[base:]
		r.skipNext = 0
	}
	r.page, r.pageBase, r.pos, r.lastPage = page, base, 0, exhausted
	r.state = stateCached
	return nil
}

// Snapshot cursor positioned at the next unread record
func (r *PagingReader) Snapshot() Cursor {
	c := Cursor{SkipCount: r.delivered}
	drained := r.pos >= len(r.page)
	switch {
	case r.state == stateExhausted || (r.state != stateEmptyCache && drained && r.lastPage):
		c.PageIndex = r.nextPage
		c.Exhausted = true
	case r.state == stateEmptyCache || r.state == stateFetching:
		c.PageIndex = r.nextPage
		c.Offset = r.skipNext
	case drained:
		c.PageIndex = r.nextPage
	default:
		c.PageIndex = r.nextPage - 1
		c.Offset = r.pageBase + r.pos
	}
	if r.tracker != nil {
		// tracked fetchers exclude delivered records themselves
		r.tracker.SaveCursor(&c)
		if !c.Exhausted {
			c.PageIndex, c.Offset = r.nextPage, 0
		}
	}
	return c
}

// Restore position the reader at cursor; the next Read returns the first record not delivered before it was saved
func (r *PagingReader) Restore(cursor Cursor) BatchError {
	if cursor.PageIndex < 0 || cursor.Offset < 0 || cursor.SkipCount < 0 {
		return NewBatchError(ErrCodeGeneral, "invalid cursor:%+v", cursor)
	}
	r.page, r.pageBase, r.pos, r.lastPage = nil, 0, 0, false
	r.nextPage = cursor.PageIndex
	r.skipNext = cursor.Offset
	r.delivered = cursor.SkipCount
	if r.tracker != nil {
		r.tracker.RestoreCursor(cursor)
		r.skipNext = 0
	}
	r.state = stateEmptyCache
	if cursor.Exhausted {
		r.state = stateExhausted
	}
	return nil
}

func (r *PagingReader) Open(ctx context.Context, execution *StepExecution) BatchError {
	if oc, ok := r.fetcher.(OpenCloser); ok {
		return oc.Open(ctx, execution)
	}
	return nil
}

func (r *PagingReader) Close(ctx context.Context, execution *StepExecution) BatchError {
	if oc, ok := r.fetcher.(OpenCloser); ok {
		return oc.Close(ctx, execution)
	}
	return nil
}

package pagebatch

import (
	"context"
	"fmt"
)

// DataSource windowed access to an ordered record set. Records must be ordered by a unique, stable key:
// the same offset and limit against unchanged data must return the same records.
type DataSource interface {
	Fetch(ctx context.Context, offset, limit int) (items []interface{}, hasMore bool, err error)
}

// DataSourceFunc adapts a function to DataSource
type DataSourceFunc func(ctx context.Context, offset, limit int) ([]interface{}, bool, error)

func (f DataSourceFunc) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	return f(ctx, offset, limit)
}

// KeyFunc returns the ordering key of a record
type KeyFunc func(item interface{}) string

// PageFetcher returns page pageIndex of pageSize records; exhausted reports that no page follows it
type PageFetcher interface {
	FetchPage(ctx context.Context, pageIndex, pageSize int) (page []interface{}, exhausted bool, err error)
}

// DeliveryTracker implemented by fetchers whose pages depend on what the reader already delivered
type DeliveryTracker interface {
	Delivered(item interface{})
	SaveCursor(cursor *Cursor)
	RestoreCursor(cursor Cursor)
}

// FetchStrategy paging strategy of a PageFetcher
type FetchStrategy string

const (
	// OffsetStrategy fetch page n at offset n*pageSize; rows inserted or deleted before the cursor shift later pages
	OffsetStrategy FetchStrategy = "offset"
	// FromZeroStrategy fetch every page from offset 0 and skip what was already delivered
	FromZeroStrategy FetchStrategy = "alwaysFromZero"
)

// NewPageFetcher fetcher of the given strategy. key is used by FromZeroStrategy only and may be nil.
func NewPageFetcher(strategy FetchStrategy, source DataSource, key KeyFunc) (PageFetcher, error) {
	switch strategy {
	case OffsetStrategy, "":
		return NewOffsetPageFetcher(source), nil
	case FromZeroStrategy:
		return NewFromZeroPageFetcher(source, key), nil
	}
	return nil, fmt.Errorf("unsupported page fetch strategy: %v", strategy)
}

type offsetPageFetcher struct {
	source DataSource
}

// NewOffsetPageFetcher LIMIT pageSize OFFSET pageIndex*pageSize
func NewOffsetPageFetcher(source DataSource) PageFetcher {
	return &offsetPageFetcher{source: source}
}

func (f *offsetPageFetcher) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]interface{}, bool, error) {
	items, hasMore, err := f.source.Fetch(ctx, pageIndex*pageSize, pageSize)
	if err != nil {
		return nil, false, err
	}
	if len(items) > pageSize {
		items = items[:pageSize]
	}
	return items, len(items) < pageSize || !hasMore, nil
}

func (f *offsetPageFetcher) Open(ctx context.Context, execution *StepExecution) BatchError {
	return openSource(ctx, f.source, execution)
}

func (f *offsetPageFetcher) Close(ctx context.Context, execution *StepExecution) BatchError {
	return closeSource(ctx, f.source, execution)
}

// fromZeroPageFetcher re-queries from offset 0 with limit skip+pageSize, skip being the number of records
// delivered so far. With a key, rows whose key was delivered are removed from that window and the first
// pageSize remaining rows form the page, so a row inserted below the cursor shows up on a later page and
// nothing delivered comes back. Without a key the first skip rows are dropped, which holds only if rows
// are never inserted or deleted below the cursor.
// The delivered keys go into every checkpoint in delivery order, so the checkpoint grows with the number of
// records read; offset paging keeps it constant.
type fromZeroPageFetcher struct {
	source    DataSource
	key       KeyFunc
	skip      int64
	keys      map[string]struct{}
	delivered []string
}

// NewFromZeroPageFetcher always-from-zero paging; key may be nil
func NewFromZeroPageFetcher(source DataSource, key KeyFunc) PageFetcher {
	return &fromZeroPageFetcher{source: source, key: key, keys: map[string]struct{}{}}
}

func (f *fromZeroPageFetcher) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]interface{}, bool, error) {
	limit := int(f.skip) + pageSize
	rows, hasMore, err := f.source.Fetch(ctx, 0, limit)
	if err != nil {
		return nil, false, err
	}
	short := len(rows) < limit || !hasMore
	if f.key == nil {
		if int(f.skip) >= len(rows) {
			return nil, true, nil
		}
		page := rows[f.skip:]
		if len(page) > pageSize {
			page = page[:pageSize]
		}
		return page, short, nil
	}
	page := make([]interface{}, 0, pageSize)
	for _, row := range rows {
		if _, seen := f.keys[f.key(row)]; seen {
			continue
		}
		if len(page) == pageSize {
			// more undelivered rows than one page in this window
			return page, false, nil
		}
		page = append(page, row)
	}
	return page, short, nil
}

func (f *fromZeroPageFetcher) Delivered(item interface{}) {
	f.skip++
	if f.key == nil {
		return
	}
	k := f.key(item)
	if _, seen := f.keys[k]; !seen {
		f.keys[k] = struct{}{}
		f.delivered = append(f.delivered, k)
	}
}

func (f *fromZeroPageFetcher) SaveCursor(cursor *Cursor) {
	cursor.SkipCount = f.skip
	if f.key == nil {
		return
	}
	// capped, so later appends never show through the saved slice
	n := len(f.delivered)
	cursor.Keys = f.delivered[:n:n]
}

func (f *fromZeroPageFetcher) RestoreCursor(cursor Cursor) {
	f.skip = cursor.SkipCount
	f.keys = make(map[string]struct{}, len(cursor.Keys))
	f.delivered = make([]string, 0, len(cursor.Keys))
	for _, k := range cursor.Keys {
		if _, seen := f.keys[k]; !seen {
			f.keys[k] = struct{}{}
			f.delivered = append(f.delivered, k)
		}
	}
}

func (f *fromZeroPageFetcher) Open(ctx context.Context, execution *StepExecution) BatchError {
	return openSource(ctx, f.source, execution)
}

func (f *fromZeroPageFetcher) Close(ctx context.Context, execution *StepExecution) BatchError {
	return closeSource(ctx, f.source, execution)
}

func openSource(ctx context.Context, source DataSource, execution *StepExecution) BatchError {
	if oc, ok := source.(OpenCloser); ok {
		return oc.Open(ctx, execution)
	}
	return nil
}

func closeSource(ctx context.Context, source DataSource, execution *StepExecution) BatchError {
	if oc, ok := source.(OpenCloser); ok {
		return oc.Close(ctx, execution)
	}
	return nil
}

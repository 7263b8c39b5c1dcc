package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
)

//RowMapper maps the current row of rows to a record
type RowMapper func(rows *sql.Rows) (interface{}, error)

//SQLSource a pagebatch.DataSource reading one table page by page:
//	SELECT columns FROM table [WHERE where] ORDER BY orderBy LIMIT ? OFFSET ?
//orderBy must name a unique key, otherwise pages may overlap or skip rows.
type SQLSource struct {
	db          *sql.DB
	table       string
	columns     []string
	orderBy     string
	where       string
	args        []interface{}
	placeholder util.Placeholder
	mapper      RowMapper
}

//SourceOption option of NewSQLSource
type SourceOption func(s *SQLSource)

//Where filter rows; args bind the ? placeholders of clause
func Where(clause string, args ...interface{}) SourceOption {
	return func(s *SQLSource) {
		s.where = clause
		s.args = args
	}
}

//WithPlaceholder bind parameter style of the driver, util.Question by default
func WithPlaceholder(p util.Placeholder) SourceOption {
	return func(s *SQLSource) {
		s.placeholder = p
	}
}

func NewSQLSource(db *sql.DB, table string, columns []string, orderBy string, mapper RowMapper, opts ...SourceOption) *SQLSource {
	if db == nil {
		panic("db must not be nil")
	}
	if table == "" || len(columns) == 0 || orderBy == "" || mapper == nil {
		panic("table, columns, orderBy and mapper are required")
	}
	s := &SQLSource{db: db, table: table, columns: columns, orderBy: orderBy, mapper: mapper}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLSource) query() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(s.columns, ", "), s.table)
	if s.where != "" {
		fmt.Fprintf(&b, " WHERE %s", s.where)
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT ? OFFSET ?", s.orderBy)
	return util.Rebind(s.placeholder, b.String())
}

func (s *SQLSource) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	args := append(append([]interface{}{}, s.args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, s.query(), args...)
	if err != nil {
		return nil, false, errors.Wrapf(err, "query %v offset:%v limit:%v", s.table, offset, limit)
	}
	defer rows.Close()
	items := make([]interface{}, 0, limit)
	for rows.Next() {
		item, err := s.mapper(rows)
		if err != nil {
			return nil, false, errors.Wrapf(err, "map row of %v", s.table)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, false, errors.Wrapf(err, "iterate rows of %v", s.table)
	}
	return items, len(items) == limit, nil
}

package util

import (
	"strconv"
	"strings"
)

// Placeholder bind parameter style of a SQL driver
type Placeholder int

const (
	// Question ? placeholders (mysql, sqlite)
	Question Placeholder = iota
	// Dollar $1, $2 placeholders (postgres)
	Dollar
)

// Rebind rewrite the ? placeholders of query to style
func Rebind(style Placeholder, query string) string {
	if style != Dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// PlaceholderFor placeholder style of a database/sql driver name
func PlaceholderFor(driver string) Placeholder {
	switch driver {
	case "postgres", "pgx":
		return Dollar
	}
	return Question
}

// TextType column type holding large text for a driver; mysql text stops at 64KB
func TextType(driver string) string {
	if driver == "mysql" {
		return "longtext"
	}
	return "text"
}

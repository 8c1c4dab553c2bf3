package backend

import (
	"net/url"
	"strconv"
	"strings"
)

// Query collects PostgREST filters, ordering and limits. The zero value
// and nil select every row.
type Query struct {
	columns string
	filters []filter
	order   []string
	limit   int
}

type filter struct {
	column string
	expr   string
}

// From starts a query selecting columns, "*" when empty.
func From(columns string) *Query {
	return &Query{columns: columns}
}

// Eq keeps rows where column equals value.
func (q *Query) Eq(column, value string) *Query {
	return q.add(column, "eq."+value)
}

// Neq keeps rows where column differs from value.
func (q *Query) Neq(column, value string) *Query {
	return q.add(column, "neq."+value)
}

// Gt keeps rows where column is greater than value.
func (q *Query) Gt(column, value string) *Query {
	return q.add(column, "gt."+value)
}

// In keeps rows where column is one of values.
func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		if strings.ContainsAny(v, ",()\"") {
			v = strconv.Quote(v)
		}
		quoted[i] = v
	}
	return q.add(column, "in.("+strings.Join(quoted, ",")+")")
}

// Order sorts by column.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) add(column, expr string) *Query {
	q.filters = append(q.filters, filter{column: column, expr: expr})
	return q
}

func (q *Query) encode(withSelect bool) string {
	v := url.Values{}
	if withSelect {
		columns := "*"
		if q != nil && q.columns != "" {
			columns = q.columns
		}
		v.Set("select", columns)
	}
	if q == nil {
		return v.Encode()
	}
	for _, f := range q.filters {
		v.Add(f.column, f.expr)
	}
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	return v.Encode()
}

package compile

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
)

// Batch is one key filter and the indexes of the rows it selects.
type Batch struct {
	Filter string
	Rows   []int
}

// BatchValues splits values of a single column into filters no longer than
// budget characters.
func BatchValues(column string, values []any, caps core.Capabilities, budget int) ([]Batch, error) {
	rows := make([]core.Row, len(values))
	for i, v := range values {
		rows[i] = core.Row{column: v}
	}
	return BatchKeyFilters([]string{column}, rows, caps, budget)
}

// BatchKeyFilters builds filters selecting rows by the given key columns.
// Each filter stays within budget characters. With quantified value lists
// and a single column, a batch reads "col=any(v1,v2)"; otherwise it is a
// disjunction of per-row conjunctions.
func BatchKeyFilters(columns []string, rows []core.Row, caps core.Capabilities, budget int) ([]Batch, error) {
	if len(columns) == 0 {
		return nil, &core.InvalidInputError{Message: "key filter needs at least one column"}
	}
	if budget <= 0 {
		budget = DefaultMaxPathLength
	}
	quantified := caps.QuantifiedValueLists && len(columns) == 1

	var (
		out    []Batch
		cur    Batch
		values []string
		terms  []string
	)
	render := func() string {
		if quantified {
			return location.Pred{Column: columns[0], Values: values, Quantified: true}.String()
		}
		return strings.Join(terms, ";")
	}
	flush := func() {
		if len(cur.Rows) == 0 {
			return
		}
		cur.Filter = render()
		out = append(out, cur)
		cur, values, terms = Batch{}, nil, nil
	}

	for i, row := range rows {
		term, value, err := keyTerm(columns, row, len(columns) > 1 && !quantified)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		prevValues, prevTerms := values, terms
		values = append(values, value)
		terms = append(terms, term)
		if len(render()) <= budget {
			cur.Rows = append(cur.Rows, i)
			continue
		}

		values, terms = prevValues, prevTerms
		flush()
		values = []string{value}
		terms = []string{term}
		if len(render()) > budget {
			return nil, &core.InvalidInputError{Message: fmt.Sprintf("key filter for row %d exceeds the path length budget of %d", i, budget)}
		}
		cur.Rows = append(cur.Rows, i)
	}
	flush()
	return out, nil
}

// keyTerm renders the conjunction selecting one row, and the raw value for
// single-column keys.
func keyTerm(columns []string, row core.Row, group bool) (string, string, error) {
	conj := make(location.And, 0, len(columns))
	for _, col := range columns {
		v, ok := row[col]
		if !ok || v == nil {
			return "", "", &core.InvalidInputError{Message: fmt.Sprintf("key column %s is null", col)}
		}
		conj = append(conj, location.Pred{Column: col, Op: location.OpEq, Value: core.FormatValue(v)})
	}
	value := core.FormatValue(row[columns[0]])
	if len(conj) == 1 {
		return conj[0].String(), value, nil
	}
	if group {
		return "(" + conj.String() + ")", value, nil
	}
	return conj.String(), value, nil
}

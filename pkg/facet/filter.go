package facet

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
)

// Filter renders the definition's arms as a path filter over columns of the
// terminal table. Search arms match any of the columns; every other arm
// uses the first. Returns "" when the definition has no arms.
func (d Definition) Filter(columns ...string) string {
	if len(columns) == 0 {
		return ""
	}
	col := core.Encode(columns[0])

	var arms []string
	for _, v := range d.Choices {
		if v == nil {
			arms = append(arms, col+"::null::")
			continue
		}
		arms = append(arms, col+"="+core.EncodeValue(v))
	}
	for _, r := range d.Ranges {
		if arm := rangeArm(col, r); arm != "" {
			arms = append(arms, arm)
		}
	}
	for _, term := range d.Search {
		if arm := searchArm(columns, term); arm != "" {
			arms = append(arms, arm)
		}
	}
	if d.NotNull {
		arms = append(arms, "!"+col+"::null::")
	}

	if len(arms) == 1 {
		return arms[0]
	}
	for i, arm := range arms {
		if strings.Contains(arm, "&") {
			arms[i] = "(" + arm + ")"
		}
	}
	return strings.Join(arms, ";")
}

func rangeArm(col string, r Range) string {
	var parts []string
	if r.Min != nil {
		op := "::gt::"
		if r.MinInclusive {
			op = "::geq::"
		}
		parts = append(parts, col+op+core.EncodeValue(r.Min))
	}
	if r.Max != nil {
		op := "::lt::"
		if r.MaxInclusive {
			op = "::leq::"
		}
		parts = append(parts, col+op+core.EncodeValue(r.Max))
	}
	return strings.Join(parts, "&")
}

// searchArm requires every word of term to match at least one column.
func searchArm(columns []string, term string) string {
	words := strings.Fields(term)
	if len(words) == 0 {
		return ""
	}
	conj := make([]string, 0, len(words))
	for _, w := range words {
		pattern := core.Encode(regexp.QuoteMeta(w))
		disj := make([]string, len(columns))
		for i, c := range columns {
			disj[i] = core.Encode(c) + "::ciregexp::" + pattern
		}
		if len(disj) == 1 {
			conj = append(conj, disj[0])
		} else {
			conj = append(conj, "("+strings.Join(disj, ";")+")")
		}
	}
	return strings.Join(conj, "&")
}

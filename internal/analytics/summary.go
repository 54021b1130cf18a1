// Package analytics derives call-history metrics from provider call logs.
package analytics

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/dialdeck/internal/domain"
)

// StatusCount is one histogram bucket.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Summary is recomputed from scratch on every call; it holds no state.
type Summary struct {
	TotalCalls           int             `json:"total_calls"`
	TotalDurationSeconds int64           `json:"total_duration_seconds"`
	TotalCost            decimal.Decimal `json:"total_cost"`
	Statuses             []StatusCount   `json:"statuses"`
}

// Summarize aggregates entries. A null or malformed duration or price
// contributes zero; costs are summed with their sign.
func Summarize(entries []domain.CallLogEntry) Summary {
	s := Summary{
		TotalCalls: len(entries),
		TotalCost:  decimal.Zero,
		Statuses:   []StatusCount{},
	}
	index := make(map[string]int)
	for _, e := range entries {
		s.TotalDurationSeconds += ParseIntOrZero(e.Duration)
		s.TotalCost = s.TotalCost.Add(ParseDecimalOrZero(e.Price))

		if i, ok := index[e.Status]; ok {
			s.Statuses[i].Count++
			continue
		}
		index[e.Status] = len(s.Statuses)
		s.Statuses = append(s.Statuses, StatusCount{Status: e.Status, Count: 1})
	}
	return s
}

// Histogram returns the status counts as a map. Use Statuses for order.
func (s Summary) Histogram() map[string]int {
	h := make(map[string]int, len(s.Statuses))
	for _, sc := range s.Statuses {
		h[sc.Status] = sc.Count
	}
	return h
}

// ParseIntOrZero parses a provider integer string. Null, empty, and
// non-numeric values yield 0.
func ParseIntOrZero(v *string) int64 {
	if v == nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseDecimalOrZero parses a provider money string. Null, empty, and
// non-numeric values yield 0.
func ParseDecimalOrZero(v *string) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RowCost is the per-row display cost: the absolute value of the price.
func RowCost(e domain.CallLogEntry) decimal.Decimal {
	return ParseDecimalOrZero(e.Price).Abs()
}

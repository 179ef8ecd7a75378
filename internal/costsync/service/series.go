package service

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/costwatch/internal/detection"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
)

const defaultCurrency = "USD"

// window is the gap-free date axis [from, to).
type window struct {
	from time.Time
	to   time.Time
	days []string
}

func newWindow(now time.Time, windowDays int) window {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -windowDays)
	days := make([]string, 0, windowDays)
	for d := from; d.Before(today); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(detection.DayLayout))
	}
	return window{from: from, to: today, days: days}
}

func (w window) fromDay() string { return w.from.Format(detection.DayLayout) }
func (w window) toDay() string   { return w.to.Format(detection.DayLayout) }

// seriesSet is the filled series per dimension, TOTAL included.
type seriesSet struct {
	currency   string
	dimensions []string
	series     map[string][]detection.Point
	dropped    int
}

// buildSeries fills every (day, dimension) pair of w. Rows outside the window
// are dropped. TOTAL comes from provider TOTAL rows when present, otherwise
// it is the per-day sum of the other dimensions.
func buildSeries(w window, rows []billing.Row) seriesSet {
	index := make(map[string]int, len(w.days))
	for i, day := range w.days {
		index[day] = i
	}

	amounts := make(map[string][]float64)
	currency := ""
	dropped := 0
	for _, row := range rows {
		i, ok := index[row.Date]
		dimension := strings.TrimSpace(row.Dimension)
		if !ok || dimension == "" {
			dropped++
			continue
		}
		if currency == "" && strings.TrimSpace(row.Currency) != "" {
			currency = strings.ToUpper(strings.TrimSpace(row.Currency))
		}
		values, ok := amounts[dimension]
		if !ok {
			values = make([]float64, len(w.days))
			amounts[dimension] = values
		}
		if row.Amount > 0 {
			values[i] += row.Amount
		}
	}
	if currency == "" {
		currency = defaultCurrency
	}

	if _, ok := amounts[detection.Total]; !ok {
		total := make([]float64, len(w.days))
		for _, values := range amounts {
			for i, v := range values {
				total[i] += v
			}
		}
		amounts[detection.Total] = total
	}

	set := seriesSet{
		currency: currency,
		series:   make(map[string][]detection.Point, len(amounts)),
		dropped:  dropped,
	}
	for dimension, values := range amounts {
		points := make([]detection.Point, len(w.days))
		for i, day := range w.days {
			points[i] = detection.Point{Date: day, Amount: values[i], Currency: currency}
		}
		set.series[dimension] = points
		set.dimensions = append(set.dimensions, dimension)
	}
	sort.Strings(set.dimensions)
	return set
}

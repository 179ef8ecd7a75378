// Package detection scores daily spend series against a rolling baseline.
//
// Everything here is pure: identical input always produces identical output,
// with no clock, randomness or I/O.
package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// Total is the dimension name of the aggregate series.
	Total = "TOTAL"

	// DayLayout is the calendar-day format used for every stored date.
	DayLayout = "2006-01-02"

	WindowSize  = 7
	MinObserved = 1.0
	MinAbsDelta = 1.0

	InfoThreshold     = 0.25
	WarningThreshold  = 0.5
	CriticalThreshold = 1.0
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() > 0 && s.rank() >= min.rank()
}

func (s Severity) Valid() bool {
	return s.rank() > 0
}

// ParseSeverity normalizes a configured severity name.
func ParseSeverity(value string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(value)))
	return sev, sev.Valid()
}

// Point is one day of spend for a single dimension.
type Point struct {
	Date     string
	Amount   float64
	Currency string
}

// Result is a flagged day. PctChange is +Inf when the baseline is zero.
type Result struct {
	Date      string
	Dimension string
	Observed  float64
	Baseline  float64
	PctChange float64
	ZScore    *float64
	Severity  Severity
	Currency  string
	Message   string
}

// Unbounded reports whether the jump was from a zero baseline.
func (r Result) Unbounded() bool {
	return math.IsInf(r.PctChange, 1)
}

// Detect scores every day that has a full baseline window behind it.
// series must be ordered by date with no gaps.
func Detect(dimension string, series []Point) []Result {
	var results []Result
	for i := WindowSize; i < len(series); i++ {
		window := make([]float64, WindowSize)
		for j := 0; j < WindowSize; j++ {
			window[j] = series[i-WindowSize+j].Amount
		}
		if result, ok := score(dimension, series[i], window); ok {
			results = append(results, result)
		}
	}
	return results
}

func score(dimension string, point Point, window []float64) (Result, bool) {
	observed := point.Amount
	baseline := mean(window)
	delta := observed - baseline
	if observed < MinObserved || delta < MinAbsDelta {
		return Result{}, false
	}

	var pctChange float64
	if baseline > 0 {
		pctChange = delta / baseline
	} else {
		pctChange = math.Inf(1)
	}
	if pctChange <= 0 {
		return Result{}, false
	}

	severity, ok := classify(pctChange)
	if !ok {
		return Result{}, false
	}

	var zScore *float64
	if sd := sampleStddev(window, baseline); sd > 0 {
		z := delta / sd
		zScore = &z
	}

	return Result{
		Date:      point.Date,
		Dimension: dimension,
		Observed:  observed,
		Baseline:  baseline,
		PctChange: pctChange,
		ZScore:    zScore,
		Severity:  severity,
		Currency:  point.Currency,
		Message:   message(dimension, point, observed, baseline, pctChange),
	}, true
}

func classify(pctChange float64) (Severity, bool) {
	switch {
	case pctChange >= CriticalThreshold:
		return SeverityCritical, true
	case pctChange >= WarningThreshold:
		return SeverityWarning, true
	case pctChange >= InfoThreshold:
		return SeverityInfo, true
	default:
		return "", false
	}
}

func message(dimension string, point Point, observed, baseline, pctChange float64) string {
	currency := point.Currency
	if currency == "" {
		currency = "USD"
	}
	label := dimension
	if label == Total {
		label = "Total spend"
	}
	if math.IsInf(pctChange, 1) {
		return fmt.Sprintf("%s on %s was %.2f %s after a zero baseline over the previous %d days",
			label, point.Date, observed, currency, WindowSize)
	}
	return fmt.Sprintf("%s on %s was %.2f %s, %d%% above the %d-day baseline of %.2f %s",
		label, point.Date, observed, currency, int(math.Round(pctChange*100)), WindowSize, baseline, currency)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev is 0 for a single sample or when every sample is equal.
func sampleStddev(values []float64, avg float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	allEqual := true
	var sq float64
	for _, v := range values {
		if v != values[0] {
			allEqual = false
		}
		d := v - avg
		sq += d * d
	}
	if allEqual {
		return 0
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// TopDimensions ranks dimensions by summed spend over the whole series and
// returns at most n names. TOTAL is never ranked; ties break by name.
func TopDimensions(series map[string][]Point, n int) []string {
	if n <= 0 {
		return nil
	}
	type ranked struct {
		name  string
		spend float64
	}
	candidates := make([]ranked, 0, len(series))
	for name, points := range series {
		if name == Total {
			continue
		}
		var spend float64
		for _, p := range points {
			spend += p.Amount
		}
		candidates = append(candidates, ranked{name: name, spend: spend})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].spend != candidates[j].spend {
			return candidates[i].spend > candidates[j].spend
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

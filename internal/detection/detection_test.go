package detection

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(start string, amounts ...float64) []Point {
	day, _ := time.Parse(DayLayout, start)
	points := make([]Point, len(amounts))
	for i, amount := range amounts {
		points[i] = Point{Date: day.AddDate(0, 0, i).Format(DayLayout), Amount: amount, Currency: "USD"}
	}
	return points
}

func TestDetectFlatThenSpike(t *testing.T) {
	results := Detect(Total, series("2026-03-01", 10, 10, 10, 10, 10, 10, 10, 25))

	require.Len(t, results, 1)
	got := results[0]
	assert.Equal(t, "2026-03-08", got.Date)
	assert.Equal(t, 10.0, got.Baseline)
	assert.Equal(t, 25.0, got.Observed)
	assert.InDelta(t, 1.5, got.PctChange, 1e-9)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Nil(t, got.ZScore, "flat window has zero stddev")
	assert.Contains(t, got.Message, "150%")
}

func TestDetectSuppressesSubUnitNoise(t *testing.T) {
	amounts := make([]float64, 40)
	for i := range amounts {
		if i%2 == 0 {
			amounts[i] = 0.05
		} else {
			amounts[i] = 0.12
		}
	}
	assert.Empty(t, Detect(Total, series("2026-01-01", amounts...)))
}

func TestDetectZeroBaseline(t *testing.T) {
	results := Detect("AmazonEC2", series("2026-03-01", 0, 0, 0, 0, 0, 0, 0, 5))

	require.Len(t, results, 1)
	assert.True(t, math.IsInf(results[0].PctChange, 1))
	assert.True(t, results[0].Unbounded())
	assert.Equal(t, SeverityCritical, results[0].Severity)
	assert.Equal(t, 0.0, results[0].Baseline)
}

func TestDetectSeverityBands(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		want     Severity
		flagged  bool
	}{
		{name: "below info", observed: 120, flagged: false},
		{name: "info", observed: 130, want: SeverityInfo, flagged: true},
		{name: "warning", observed: 150, want: SeverityWarning, flagged: true},
		{name: "critical", observed: 200, want: SeverityCritical, flagged: true},
		{name: "drop", observed: 20, flagged: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Detect(Total, series("2026-03-01", 100, 100, 100, 100, 100, 100, 100, tt.observed))
			if !tt.flagged {
				assert.Empty(t, results)
				return
			}
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Severity)
		})
	}
}

func TestDetectMinAbsDelta(t *testing.T) {
	// 50% jump but only 0.5 currency units
	assert.Empty(t, Detect(Total, series("2026-03-01", 1, 1, 1, 1, 1, 1, 1, 1.5)))
}

func TestDetectZScoreIsDiagnostic(t *testing.T) {
	results := Detect(Total, series("2026-03-01", 90, 110, 90, 110, 90, 110, 100, 300))

	require.Len(t, results, 1)
	require.NotNil(t, results[0].ZScore)
	assert.Greater(t, *results[0].ZScore, 0.0)
	assert.Equal(t, SeverityCritical, results[0].Severity)
}

func TestDetectDeterministic(t *testing.T) {
	input := series("2026-02-01", 5, 7, 6, 5, 8, 6, 7, 30, 6, 5, 9, 40, 5, 6)
	first := Detect("AmazonS3", input)
	second := Detect("AmazonS3", input)
	assert.Equal(t, first, second)
}

func TestDetectShortSeries(t *testing.T) {
	assert.Empty(t, Detect(Total, series("2026-03-01", 1, 2, 3, 100)))
}

func TestTopDimensions(t *testing.T) {
	input := map[string][]Point{
		Total:       series("2026-03-01", 1000, 1000),
		"AmazonEC2": series("2026-03-01", 50, 50),
		"AmazonS3":  series("2026-03-01", 10, 10),
		"AmazonRDS": series("2026-03-01", 10, 10),
		"AWSLambda": series("2026-03-01", 1, 1),
	}

	assert.Equal(t, []string{"AmazonEC2", "AmazonRDS", "AmazonS3"}, TopDimensions(input, 3))
	assert.Len(t, TopDimensions(input, 12), 4)
	assert.Nil(t, TopDimensions(input, 0))
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
	assert.False(t, Severity("bogus").AtLeast(SeverityInfo))

	sev, ok := ParseSeverity(" Warning ")
	assert.True(t, ok)
	assert.Equal(t, SeverityWarning, sev)
}

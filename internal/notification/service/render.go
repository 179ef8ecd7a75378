package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/internal/detection"
)

type emailMessage struct {
	Subject string
	Text    string
	HTML    string
}

var anomalyEmailTemplate = template.Must(template.New("anomaly_email").Parse(`<!doctype html>
<html>
  <body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #111827;">
    <h2 style="margin-bottom: 4px;">{{.Title}}</h2>
    <p style="color: #6b7280; margin-top: 0;">{{.Day}}</p>
    <p>{{.Message}}</p>
    <table cellpadding="6" style="border-collapse: collapse;">
      <tr><td>Observed</td><td><strong>{{.Observed}}</strong></td></tr>
      <tr><td>{{.Window}}-day baseline</td><td>{{.Baseline}}</td></tr>
      <tr><td>Change</td><td>{{.Change}}</td></tr>
    </table>
    {{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open the cost dashboard</a></p>{{end}}
  </body>
</html>`))

func dimensionLabel(dimension string) string {
	if dimension == detection.Total {
		return "Total spend"
	}
	return dimension
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatChange(a anomalydomain.Anomaly) string {
	if a.Unbounded || a.PctChange == nil {
		return "new spend (no baseline)"
	}
	return fmt.Sprintf("+%.0f%%", *a.PctChange*100)
}

func formatAmount(amount float64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

func renderAnomalyEmail(a anomalydomain.Anomaly, dashboardURL string) emailMessage {
	severity := strings.ToUpper(a.Severity)
	title := fmt.Sprintf("%s cost spike: %s", capitalize(a.Severity), dimensionLabel(a.Dimension))
	subject := fmt.Sprintf("[%s] %s on %s", severity, dimensionLabel(a.Dimension), a.Day)

	data := struct {
		Title        string
		Day          string
		Message      string
		Observed     string
		Baseline     string
		Change       string
		Window       int
		DashboardURL string
	}{
		Title:        title,
		Day:          a.Day,
		Message:      a.Message,
		Observed:     formatAmount(a.Observed, a.Currency),
		Baseline:     formatAmount(a.Baseline, a.Currency),
		Change:       formatChange(a),
		Window:       detection.WindowSize,
		DashboardURL: dashboardURL,
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n%s\n\n", title, a.Message)
	fmt.Fprintf(&text, "Observed: %s\n", data.Observed)
	fmt.Fprintf(&text, "%d-day baseline: %s\n", detection.WindowSize, data.Baseline)
	fmt.Fprintf(&text, "Change: %s\n", data.Change)
	if dashboardURL != "" {
		fmt.Fprintf(&text, "\n%s\n", dashboardURL)
	}

	var html bytes.Buffer
	if err := anomalyEmailTemplate.Execute(&html, data); err != nil {
		html.Reset()
	}
	return emailMessage{Subject: subject, Text: text.String(), HTML: html.String()}
}

func renderAnomalySlack(a anomalydomain.Anomaly, dashboardURL string) string {
	icon := ":warning:"
	if a.Severity == string(detection.SeverityCritical) {
		icon = ":rotating_light:"
	}
	text := fmt.Sprintf("%s *%s* cost spike on %s: %s (%s, baseline %s)\n%s",
		icon,
		strings.ToUpper(a.Severity),
		a.Day,
		dimensionLabel(a.Dimension),
		formatAmount(a.Observed, a.Currency),
		formatAmount(a.Baseline, a.Currency),
		a.Message,
	)
	if dashboardURL != "" {
		text += "\n<" + dashboardURL + "|Open dashboard>"
	}
	return text
}

package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/smallbiznis/costwatch/internal/detection"
	"github.com/smallbiznis/costwatch/internal/report/domain"
)

type emailMessage struct {
	Subject string
	Text    string
	HTML    string
}

var weeklyEmailTemplate = template.Must(template.New("weekly_email").Parse(`<!doctype html>
<html>
  <body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #111827;">
    <h2 style="margin-bottom: 4px;">Your weekly cloud spend</h2>
    <p style="color: #6b7280; margin-top: 0;">{{.From}} to {{.To}}</p>
    <table cellpadding="6" style="border-collapse: collapse;">
      <tr><td>Last 7 days</td><td><strong>{{.Current}}</strong></td></tr>
      <tr><td>Previous 7 days</td><td>{{.Previous}}</td></tr>
      <tr><td>Change</td><td>{{.Change}}</td></tr>
      <tr><td>Open anomalies</td><td>{{.Open}}</td></tr>
    </table>
    {{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open the cost dashboard</a></p>{{end}}
  </body>
</html>`))

func formatWeeklyChange(s domain.Summary) string {
	if s.PctChange == nil {
		return "n/a"
	}
	sign := "+"
	if *s.PctChange < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s%.0f%%", sign, *s.PctChange*100)
}

func renderWeeklyEmail(s domain.Summary, dashboardURL string) emailMessage {
	current := fmt.Sprintf("%.2f %s", s.CurrentSpend, s.Currency)
	previous := fmt.Sprintf("%.2f %s", s.PreviousSpend, s.Currency)
	change := formatWeeklyChange(s)
	lastDay := s.ToDay
	if to, err := time.Parse(detection.DayLayout, s.ToDay); err == nil {
		lastDay = to.AddDate(0, 0, -1).Format(detection.DayLayout)
	}
	subject := fmt.Sprintf("Weekly cloud spend: %s (%s)", current, change)

	var text strings.Builder
	fmt.Fprintf(&text, "Your cloud spend from %s to %s\n\n", s.FromDay, lastDay)
	fmt.Fprintf(&text, "Last 7 days: %s\n", current)
	fmt.Fprintf(&text, "Previous 7 days: %s\n", previous)
	fmt.Fprintf(&text, "Change: %s\n", change)
	fmt.Fprintf(&text, "Open anomalies: %d\n", s.OpenAnomalies)
	if dashboardURL != "" {
		fmt.Fprintf(&text, "\n%s\n", dashboardURL)
	}

	var html bytes.Buffer
	err := weeklyEmailTemplate.Execute(&html, struct {
		From, To, Current, Previous, Change string
		Open                                int
		DashboardURL                        string
	}{s.FromDay, lastDay, current, previous, change, s.OpenAnomalies, dashboardURL})
	if err != nil {
		html.Reset()
	}
	return emailMessage{Subject: subject, Text: text.String(), HTML: html.String()}
}

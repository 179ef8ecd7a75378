package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
)

const (
	costAndUsagePath = "/v1/cost-and-usage"
	maxErrorBody     = 4 << 10
	defaultTimeout   = 15 * time.Second
	retryBackoff     = 500 * time.Millisecond
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPProvider talks to the Cost Explorer JSON gateway.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

func NewHTTPProvider(cfg Config, m *metrics.PipelineMetrics) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		now:     time.Now,
	}
}

type costRequest struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Granularity string `json:"granularity"`
	GroupBy     string `json:"group_by"`
	Metric      string `json:"metric"`
}

type costAmount struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

type costGroup struct {
	Key string `json:"key"`
	costAmount
}

type costResult struct {
	Date   string      `json:"date"`
	Total  *costAmount `json:"total,omitempty"`
	Groups []costGroup `json:"groups"`
}

type costResponse struct {
	Results []costResult `json:"results"`
}

type errorResponse struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (p *HTTPProvider) FetchDailyCosts(ctx context.Context, creds Credentials, start, endExclusive string) ([]Row, error) {
	began := time.Now()
	rows, err := p.fetch(ctx, creds, start, endExclusive)
	outcome := "ok"
	if err != nil {
		outcome = string(AsError(err).Code)
	}
	p.metrics.ObserveProviderRequest(outcome, time.Since(began))
	return rows, err
}

func (p *HTTPProvider) Ping(ctx context.Context, creds Credentials) error {
	today := p.now().UTC()
	start := today.AddDate(0, 0, -1).Format("2006-01-02")
	_, err := p.FetchDailyCosts(ctx, creds, start, today.Format("2006-01-02"))
	return err
}

func (p *HTTPProvider) fetch(ctx context.Context, creds Credentials, start, endExclusive string) ([]Row, error) {
	if p.baseURL == "" {
		return nil, &Error{Code: CodeProviderError, Message: "billing provider endpoint not configured"}
	}
	if !creds.Valid() {
		return nil, &Error{Code: CodeInvalidCredentials, Message: "access key id and secret are required"}
	}

	body, err := json.Marshal(costRequest{
		Start:       start,
		End:         endExclusive,
		Granularity: "DAILY",
		GroupBy:     "SERVICE",
		Metric:      "UnblendedCost",
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, creds, body)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeFailure(resp)
	}

	var payload costResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Code: CodeProviderError, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return flatten(payload)
}

// do sends the request and retries once on a transport failure.
func (p *HTTPProvider) do(ctx context.Context, creds Credentials, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+costAndUsagePath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Access-Key-Id", creds.AccessKeyID)
		req.Header.Set("Authorization", "Bearer "+creds.SecretAccessKey)
		if creds.Region != "" {
			req.Header.Set("X-Region", creds.Region)
		}

		resp, err := p.client.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeFailure(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorResponse
	_ = json.Unmarshal(raw, &payload)

	errorType := payload.Type
	if idx := strings.LastIndex(errorType, "#"); idx >= 0 {
		errorType = errorType[idx+1:]
	}
	code := MapFailure(resp.StatusCode, errorType)

	message := codeMessages[code]
	if payload.Message != "" {
		message = message + ": " + payload.Message
	}
	perr := &Error{Code: code, Message: message}
	if code == CodeThrottled {
		perr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return perr
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Minute
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Minute
}

func flatten(payload costResponse) ([]Row, error) {
	rows := make([]Row, 0, len(payload.Results)*4)
	for _, result := range payload.Results {
		if _, err := time.Parse("2006-01-02", result.Date); err != nil {
			return nil, &Error{Code: CodeProviderError, Message: fmt.Sprintf("malformed date %q", result.Date)}
		}
		for _, group := range result.Groups {
			if strings.TrimSpace(group.Key) == "" {
				continue
			}
			amount, err := parseAmount(group.Amount)
			if err != nil {
				return nil, err
			}
			rows = append(rows, Row{Date: result.Date, Dimension: group.Key, Amount: amount, Currency: unit(group.Unit)})
		}
		if result.Total != nil {
			amount, err := parseAmount(result.Total.Amount)
			if err != nil {
				return nil, err
			}
			rows = append(rows, Row{Date: result.Date, Dimension: "TOTAL", Amount: amount, Currency: unit(result.Total.Unit)})
		}
	}
	return rows, nil
}

// parseAmount reads the provider's decimal string exactly before converting.
// Credits produce negative amounts and are floored at zero.
func parseAmount(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, _, err := apd.NewFromString(value)
	if err != nil {
		return 0, &Error{Code: CodeProviderError, Message: fmt.Sprintf("malformed amount %q", value)}
	}
	if d.Negative {
		return 0, nil
	}
	f, err := d.Float64()
	if err != nil {
		return 0, &Error{Code: CodeProviderError, Message: fmt.Sprintf("amount out of range %q", value)}
	}
	return f, nil
}

func unit(u string) string {
	u = strings.ToUpper(strings.TrimSpace(u))
	if u == "" {
		return "USD"
	}
	return u
}

var _ Provider = (*HTTPProvider)(nil)

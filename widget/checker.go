// Package widget asks the scanner service whether a site serves the
// accessibility widget script.
package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Check results.
const (
	StatusWebAbility = "WebAbility"
	StatusPresent    = "true"
	StatusAbsent     = "false"
)

const notFoundResult = "Not Found"

// Checker calls GET {baseURL}/checkscript/?url=<domain>.
type Checker struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
	log      *zap.Logger
}

func NewChecker(baseURL string, timeout time.Duration, attempts int, log *zap.Logger) *Checker {
	if attempts < 1 {
		attempts = 1
	}
	return &Checker{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		timeout:  timeout,
		attempts: attempts,
		sleep:    sleepContext,
		log:      log.With(zap.String("component", "widget_checker")),
	}
}

type checkResponse struct {
	Result string `json:"result"`
}

// Check returns StatusWebAbility, StatusPresent or StatusAbsent. Failed
// attempts back off attempt*1s; once attempts run out the result is
// StatusAbsent.
func (c *Checker) Check(ctx context.Context, domain string) string {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		result, err := c.fetch(ctx, domain)
		if err == nil {
			return mapResult(result)
		}
		c.log.Warn("Widget check attempt failed",
			zap.String("domain", domain),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.attempts {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			break
		}
	}
	c.log.Error("Widget check gave up", zap.String("domain", domain), zap.Int("attempts", c.attempts))
	return StatusAbsent
}

func (c *Checker) fetch(ctx context.Context, domain string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/checkscript/?url=" + url.QueryEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("checkscript returned status %d", resp.StatusCode)
	}
	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode checkscript response: %w", err)
	}
	return body.Result, nil
}

func mapResult(result string) string {
	switch result {
	case StatusWebAbility:
		return StatusWebAbility
	case notFoundResult:
		return StatusAbsent
	default:
		return StatusPresent
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

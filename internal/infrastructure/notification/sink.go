// Package notification delivers operator notifications to chat services.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/konozy/ordersync/internal/domain/integration"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 1024
)

var titleCaser = cases.Title(language.English)

// SeverityLabel names the band a severity falls into.
func SeverityLabel(s integration.Severity) string {
	switch {
	case s >= integration.SeverityCritical:
		return "critical"
	case s >= integration.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// SeverityTitle is SeverityLabel in title case, for message headers.
func SeverityTitle(s integration.Severity) string {
	return titleCaser.String(SeverityLabel(s))
}

// postJSON sends body as JSON and fails on any non-2xx reply.
func postJSON(ctx context.Context, client *http.Client, service, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %s: encode message: %v", integration.ErrNotifierFailed, service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: build request: %v", integration.ErrNotifierFailed, service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", integration.ErrNotifierFailed, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%w: %s: HTTP %d: %s", integration.ErrNotifierFailed, service, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 64 << 10

// queuedOnTerminal are the provider messages for a terminal that already holds a charge.
var queuedOnTerminal = []string{"already_queued_order_on_terminal", "queued order on the terminal"}

// newHTTPClient builds a traced client for provider calls.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// providerMessage collects the error fields providers use into one message.
type providerMessage struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	StatusMessage    string `json:"status_message"`
	Detail           string `json:"detail"`
	Errors           []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (m providerMessage) String() string {
	for _, s := range []string{m.Message, m.ErrorDescription, m.Error, m.StatusMessage, m.Detail} {
		if s != "" {
			return s
		}
	}
	if len(m.Errors) > 0 {
		if m.Errors[0].Code != "" {
			return m.Errors[0].Code
		}
		return m.Errors[0].Message
	}
	return ""
}

// requestSpec is one JSON call to a provider.
type requestSpec struct {
	method  string
	url     string
	headers map[string]string
	body    any
	form    string
}

// doJSON sends call and decodes a 2xx response into out. Failures are
// classified onto the domain sentinels: transport and 5xx errors are
// ErrProviderUnavailable, a queued charge is ErrTerminalBusy, rejected
// credentials are ErrProviderNotConfigured and other 4xx are ErrProviderRejected.
func doJSON(ctx context.Context, client *http.Client, provider string, call requestSpec, out any) error {
	var body io.Reader
	contentType := "application/json"
	switch {
	case call.form != "":
		body = strings.NewReader(call.form)
		contentType = "application/x-www-form-urlencoded"
	case call.body != nil:
		payload, err := json.Marshal(call.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", provider, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", provider, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %v", provider, domainErrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("%s: decode response: %w", provider, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var pm providerMessage
	_ = json.Unmarshal(raw, &pm)
	msg := pm.String()
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return classify(provider, resp.StatusCode, msg, string(raw))
}

func classify(provider string, status int, msg, raw string) error {
	lower := strings.ToLower(msg + " " + raw)
	for _, marker := range queuedOnTerminal {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%s: %s (status %d): %w", provider, msg, status, domainErrors.ErrTerminalBusy)
		}
	}

	var sentinel error
	switch {
	case status == http.StatusConflict:
		sentinel = domainErrors.ErrTerminalBusy
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = domainErrors.ErrProviderNotConfigured
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		sentinel = domainErrors.ErrProviderUnavailable
	default:
		sentinel = domainErrors.ErrProviderRejected
	}
	return fmt.Errorf("%s: %s (status %d): %w", provider, msg, status, sentinel)
}

// bearer strips an optional "Bearer " prefix from a configured token.
func bearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// expandID fills the ":id" placeholder of a URL template.
func expandID(template, id string) string {
	return strings.ReplaceAll(template, ":id", url.PathEscape(id))
}

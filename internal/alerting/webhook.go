package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// maxResponseBodySize limits how much of the response body we log (1KB)
	maxResponseBodySize = 1024

	defaultWebhookTimeout = 10 * time.Second
	defaultMaxRetries     = 3
)

// WebhookSink posts alerts as JSON to a single HTTP endpoint, signing the
// payload with HMAC SHA-256 so receivers can verify the origin.
type WebhookSink struct {
	url        string
	secret     string
	client     *http.Client
	maxRetries int
}

// WebhookOption customizes a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookSink) { w.client = c }
}

// WithMaxRetries overrides the retry budget per delivery.
func WithMaxRetries(n int) WebhookOption {
	return func(w *WebhookSink) { w.maxRetries = n }
}

// NewWebhookSink creates a sink posting to url. Payloads are signed with
// secret when it is non-empty.
func NewWebhookSink(url, secret string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:        url,
		secret:     secret,
		client:     &http.Client{Timeout: defaultWebhookTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ComputeHMAC generates an HMAC signature for the given payload using the secret
func ComputeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies that the provided signature matches the computed HMAC
func VerifySignature(payload []byte, signature string, secret string) bool {
	expected := ComputeHMAC(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Deliver posts the payload with bounded exponential-backoff retries.
// Non-2xx responses and transport errors are retried; the last failure is
// returned so the dispatcher can log it.
func (w *WebhookSink) Deliver(ctx context.Context, key string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	deliveryID := uuid.New().String()
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			log.Printf("[alert] webhook retry: key=%s attempt=%d/%d backoff=%s",
				key, attempt+1, w.maxRetries+1, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Flagguard-Event", p.Type)
		req.Header.Set("X-Flagguard-Delivery", deliveryID)
		if w.secret != "" {
			req.Header.Set("X-Flagguard-Signature", ComputeHMAC(body, w.secret))
		}

		start := time.Now()
		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			log.Printf("[alert] webhook delivered: key=%s status=%d duration=%dms attempt=%d/%d",
				key, resp.StatusCode, time.Since(start).Milliseconds(), attempt+1, w.maxRetries+1)
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.maxRetries+1, lastErr)
}

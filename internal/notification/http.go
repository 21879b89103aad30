package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const sendAttempts = 3

// sendBackoff is the wait before the first retry; it doubles per attempt.
var sendBackoff = 500 * time.Millisecond

// statusError is a non-2xx reply. Retryable replies (429, 5xx) are sent
// again after Wait, or the attempt backoff when the server gave no hint.
type statusError struct {
	Code   int
	Detail string
	Wait   time.Duration
}

func (e *statusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("status %d", e.Code)
}

func (e *statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// postJSON posts body to url, retrying throttled and server-side failures.
// decode turns a non-2xx reply into a statusError; nil uses the raw body.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body any,
	decode func(*http.Response) *statusError) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if decode == nil {
		decode = plainStatus
	}

	delay := sendBackoff
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt == sendAttempts {
				return fmt.Errorf("send: %w", err)
			}
		} else {
			serr := (*statusError)(nil)
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				serr = decode(resp)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if serr == nil {
				return nil
			}
			if !serr.retryable() || attempt == sendAttempts {
				return serr
			}
			if serr.Wait > 0 {
				delay = serr.Wait
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func plainStatus(resp *http.Response) *statusError {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &statusError{Code: resp.StatusCode, Detail: string(bytes.TrimSpace(detail))}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		serr.Wait = time.Duration(secs) * time.Second
	}
	return serr
}

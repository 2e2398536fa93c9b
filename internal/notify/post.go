package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// sendTimeout bounds a single delivery attempt; the engine never waits
	// on notifications, so a slow channel only delays other channels.
	sendTimeout = 10 * time.Second

	// errBodyLimit caps how much of an error response ends up in logs.
	errBodyLimit = 1024
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

// postJSON delivers payload to url as a JSON POST and treats every non-2xx
// response as an error, quoting a bounded prefix of the response body.
// channel names the sender in wrapped errors.
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: deliver: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return fmt.Errorf("%s: status %d: %s", channel, resp.StatusCode, detail)
	}
	return nil
}

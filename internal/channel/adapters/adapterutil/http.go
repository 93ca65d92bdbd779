package adapterutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPClient is used by adapters that talk to provider REST APIs directly.
var DefaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// PostJSON sends payload as JSON with an optional bearer token. Non-2xx
// responses become errors carrying a preview of the response body.
func PostJSON(ctx context.Context, client *http.Client, url, bearer string, payload any) error {
	if client == nil {
		client = DefaultHTTPClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(bearer); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, SummarizeText(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// JoinURL joins a base URL and a path with exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Package health checks that a scouting run left usable output behind and
// that a running iptv-scout server answers.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrNoState is returned when no run has written the state file yet.
var ErrNoState = errors.New("no state file")

// CheckState returns nil if the state file at path exists, holds a JSON
// object and was written within maxAge. maxAge <= 0 skips the age check.
func CheckState(path string, maxAge time.Duration) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoState, path)
		}
		return err
	}
	if maxAge > 0 {
		if age := time.Since(fi.ModTime()); age > maxAge {
			return fmt.Errorf("state file is %s old (max %s)", age.Round(time.Second), maxAge)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("state file is not a JSON object: %w", err)
	}
	return nil
}

// CheckEndpoints hits healthz, readyz and the text playlist at baseURL and
// returns the first error or nil.
func CheckEndpoints(ctx context.Context, client *http.Client, baseURL string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	for _, path := range []string{"/healthz", "/readyz", "/playlist.txt"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
			}
			return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, msg)
		}
	}
	return nil
}

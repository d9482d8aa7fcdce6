package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/core/constants"
	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

// upstreamRow mirrors adminapi's upstreamView JSON shape; it's redeclared
// here rather than imported since adminapi's type is package-private and
// ollactl only needs to decode it, not construct one.
type upstreamRow struct {
	ID        string                          `json:"id"`
	BaseURL   string                          `json:"base_url"`
	Weight    int                             `json:"weight"`
	KeyCount  int                             `json:"key_count"`
	Counters  domain.UpstreamCountersSnapshot `json:"counters"`
	Available bool                            `json:"available"`
}

type upstreamsResponse struct {
	Upstreams []upstreamRow `json:"upstreams"`
}

// client talks to the admin control plane over plain HTTP, the same
// X-Admin-Token/?token= scheme adminapi.Service.authorized enforces.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) adminURL(path string) string {
	return c.baseURL + "/admin/api/v1" + path
}

func (c *client) listUpstreams() ([]upstreamRow, error) {
	req, err := http.NewRequest(http.MethodGet, c.adminURL("/upstreams"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.HeaderAdminToken, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var out upstreamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding upstreams response: %w", err)
	}
	return out.Upstreams, nil
}

// streamRequests opens the completed-request SSE feed and sends one decoded
// RequestLogEntry per "data:" line onto out, until done is closed or the
// response stream ends. The admin token travels as a query param since
// SSE has no way to attach a header from a browser EventSource, and the
// server enforces the same restriction on this endpoint.
func (c *client) streamRequests(out chan<- domain.RequestLogEntry, done <-chan struct{}) error {
	u, err := url.Parse(c.adminURL("/requests/stream"))
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set(constants.QueryParamAdminToken, c.token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-done:
			return nil
		default:
		}
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var entry domain.RequestLogEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		select {
		case out <- entry:
		case <-done:
			return nil
		}
	}
	return scanner.Err()
}

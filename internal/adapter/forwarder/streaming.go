package forwarder

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

// maxUsageWindow bounds how many trailing bytes of the response body are
// kept around for usage-token extraction. The usage object is always the
// last (or only) JSON object in a chat/completion response — whether a
// single JSON body or the final SSE "data:" event — so a sliding window
// is enough without holding the whole body in memory.
const maxUsageWindow = 16 * 1024

// commit copies response headers and status, then streams the body
// chunk-for-chunk to the client. This proxy has no separate per-upstream
// health checker racing the read, so a stalled backend is bounded by the
// request's own context deadline instead of a second timer.
func (f *Forwarder) commit(w http.ResponseWriter, resp *http.Response, entry *domain.RequestLogEntry, upstreamID string) (int64, error) {
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := f.bufPool.Get()
	defer f.bufPool.Put(buf)

	accounting := f.shouldAccountUsage(resp, upstreamID)
	var window []byte

	var written int64
	for {
		n, readErr := resp.Body.Read(*buf)
		if n > 0 {
			if _, writeErr := w.Write((*buf)[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			if canFlush {
				flusher.Flush()
			}
			if accounting {
				window = appendWindow(window, (*buf)[:n], maxUsageWindow)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return written, readErr
		}
	}

	if accounting {
		if usage := extractUsage(decodeForAccounting(window, resp.Header.Get("Content-Encoding"))); usage != nil {
			entry.PromptTokens = usage.PromptTokens
			entry.CompletionTokens = usage.CompletionTokens
			entry.TotalTokens = usage.TotalTokens
		}
	}

	return written, nil
}

// shouldAccountUsage decides whether the response is worth scanning for a
// usage object: always for uncompressed bodies, and for compressed bodies
// only when the upstream is explicitly opted into usage_inject_upstreams
// since decompression is extra work on every response otherwise.
func (f *Forwarder) shouldAccountUsage(resp *http.Response, upstreamID string) bool {
	enc := resp.Header.Get("Content-Encoding")
	if enc == "" {
		return true
	}
	_, ok := f.usageHosts[upstreamID]
	return ok
}

func appendWindow(window, chunk []byte, limit int) []byte {
	window = append(window, chunk...)
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}

func decodeForAccounting(window []byte, contentEncoding string) []byte {
	switch strings.ToLower(contentEncoding) {
	case "gzip":
		gz, err := gzip.NewReader(strings.NewReader(string(window)))
		if err != nil {
			return nil
		}
		defer gz.Close()
		decoded, err := io.ReadAll(gz)
		if err != nil {
			return nil
		}
		return decoded
	case "":
		return window
	default:
		// br/deflate accounting isn't worth a dependency for a best-effort
		// token count; leave it null rather than guess.
		return nil
	}
}

type usageTokens struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
}

// extractUsage finds the last `"usage": {...}` object in buf and parses it.
// Works for both a plain JSON response body (usage is a top-level field)
// and an SSE stream (usage arrives in the final data: event) since both
// cases reduce to "find the rightmost usage object in the trailing bytes".
func extractUsage(buf []byte) *usageTokens {
	if len(buf) == 0 {
		return nil
	}
	key := []byte(`"usage"`)
	idx := lastIndex(buf, key)
	if idx < 0 {
		return nil
	}

	open := -1
	for i := idx + len(key); i < len(buf); i++ {
		if buf[i] == '{' {
			open = i
			break
		}
		if buf[i] != ':' && buf[i] != ' ' {
			break
		}
	}
	if open < 0 {
		return nil
	}

	depth := 0
	for i := open; i < len(buf); i++ {
		switch buf[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var u usageTokens
				if err := json.Unmarshal(buf[open:i+1], &u); err != nil {
					return nil
				}
				return &u
			}
		}
	}
	return nil
}

func lastIndex(haystack, needle []byte) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

func copyResponseHeaders(w http.ResponseWriter, src http.Header) {
	dst := w.Header()
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// Package security holds request-level guards that sit in front of the
// proxy route, ahead of candidate selection and forwarding.
package security

import (
	"fmt"
	"net/http"

	"github.com/HsGalaxy/gptload-go/internal/logger"
)

// SizeLimiter rejects proxy requests whose declared Content-Length exceeds
// maxBodyBytes outright, and caps the body reader for anything that lied
// about its length. Thread-safe by construction: no mutable state.
type SizeLimiter struct {
	log          *logger.StyledLogger
	maxBodyBytes int64
}

func NewSizeLimiter(maxBodyBytes int64, log *logger.StyledLogger) *SizeLimiter {
	return &SizeLimiter{maxBodyBytes: maxBodyBytes, log: log}
}

// Middleware matches router.RouteRegistry's middlewareFunc interface.
func (s *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.maxBodyBytes <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > s.maxBodyBytes {
			s.log.Warn("Request body too large",
				"content_length", r.ContentLength,
				"limit", s.maxBodyBytes,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)
			http.Error(w, fmt.Sprintf("request body exceeds %d bytes", s.maxBodyBytes), http.StatusRequestEntityTooLarge)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

package reporting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config contains error reporting configuration
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Transport   sentry.Transport // Overrides the HTTP transport, used by tests
}

// Reporter sends errors to Sentry. A nil Reporter, or one built without a
// DSN, silently discards everything.
type Reporter struct {
	hub *sentry.Hub
}

// New creates a reporter. An empty DSN yields a disabled reporter.
func New(config Config) (*Reporter, error) {
	if config.DSN == "" {
		return &Reporter{}, nil
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 1.0
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         config.DSN,
		Environment: config.Environment,
		Release:     config.Release,
		SampleRate:  config.SampleRate,
		Transport:   config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether errors are actually sent anywhere
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Capture reports err with the given tags
func (r *Reporter) Capture(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// CaptureRequest reports err with the request attached
func (r *Reporter) CaptureRequest(req *http.Request, err error, msg string) {
	if !r.Enabled() || err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		r.hub.CaptureException(err)
	})
}

// Recover wraps a handler so panics are reported and answered with a 500
func (r *Reporter) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if r.Enabled() {
					hub := r.hub.Clone()
					hub.Scope().SetRequest(req)
					hub.RecoverWithContext(req.Context(), err)
					hub.Flush(2 * time.Second)
				}
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// Flush waits up to timeout for queued events to be sent
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

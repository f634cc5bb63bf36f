package mlflow

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const headerRequestID = "X-Request-ID"

// loggingTransport tags every outgoing request with a request id and logs its
// outcome.
type loggingTransport struct {
	next http.RoundTripper
}

func newLoggingTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
		req = req.Clone(req.Context())
		req.Header.Set(headerRequestID, requestID)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	fields := log.Fields{
		"method":     req.Method,
		"path":       req.URL.Path,
		"latency_ms": time.Since(start).Milliseconds(),
		"request_id": requestID,
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Debug("tracking request failed")
		return nil, err
	}

	fields["status"] = resp.StatusCode
	log.WithFields(fields).Debug("tracking request completed")
	return resp, nil
}

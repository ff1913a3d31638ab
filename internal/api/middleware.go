package api

import (
	"fmt"
	"net/http"

	"github.com/peoplecore/flagguard/internal/monitor"
)

// Outcome wraps a handler whose traffic is gated by the named flag and
// reports one outcome per request once the response is finalized. Any
// status below 400 counts as a success.
func Outcome(m *monitor.Monitor, flag string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ow := &outcomeWriter{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					m.RecordOutcome(flag, false, fmt.Sprintf("panic: %v", rec))
					panic(rec)
				}
				detail := ""
				if ow.status >= 400 {
					detail = fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, ow.status)
				}
				m.RecordOutcome(flag, ow.status < 400, detail)
			}()

			next.ServeHTTP(ow, r)
		})
	}
}

// outcomeWriter captures the status code written by the wrapped handler.
type outcomeWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *outcomeWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *outcomeWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"plasticatlas/internal/core"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeName prefers the matched route template so metrics stay bounded.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func outcomeForStatus(status int) core.Outcome {
	switch {
	case status == http.StatusNotFound:
		return core.OutcomeNotFound
	case status >= 500:
		return core.OutcomeError
	case status >= 400:
		return core.OutcomeInvalid
	default:
		return core.OutcomeSuccess
	}
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := routeName(r)
		if h.recorder != nil {
			h.recorder.Observe(r.Context(), r.Method+" "+route, outcomeForStatus(sw.status), elapsed)
		}
		if sw.status >= 500 {
			h.logger.Error("http request", "method", r.Method, "route", route, "status", sw.status, "duration", elapsed)
			return
		}
		h.logger.Info("http request", "method", r.Method, "route", route, "status", sw.status, "duration", elapsed)
	})
}

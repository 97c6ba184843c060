package monitor

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPHandler builds the Live Monitor's HTTP surface, instrumented with
// otelhttp the same way the teacher's telemetry.TracingMiddlewareWithConfig
// wraps a mux: every request gets a span named "HTTP {method} {path}" and
// automatic request metrics, with /healthz excluded from tracing.
//
//	GET /runtime/snapshot — the latest View as JSON
//	GET /runtime/stream   — newline-delimited JSON, one View per push
//	GET /healthz          — plain liveness check, untraced
func NewHTTPHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime/snapshot", snapshotHandler(hub))
	mux.HandleFunc("/runtime/stream", streamHandler(hub))
	mux.HandleFunc("/healthz", healthzHandler)

	return otelhttp.NewHandler(mux, "agentrt-monitor",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}),
	)
}

func snapshotHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(hub.Latest())
	}
}

// streamHandler pushes every newly published View as a JSON line,
// flushing after each write so a curl or EventSource-style client sees
// them incrementally. It exits cleanly when the client disconnects
// (request context cancellation) or the Hub subscription is torn down.
func streamHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		enc := json.NewEncoder(w)
		_ = enc.Encode(hub.Latest())
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				if err := enc.Encode(v); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

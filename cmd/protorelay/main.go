// Command protorelay runs the gateway's HTTP server: a client-facing
// /v1/messages endpoint translated across provider families, plus
// /health, /status, and /version for operators.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	aigateway "github.com/protorelay/gateway"
	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/logging"
	"github.com/protorelay/gateway/internal/version"
	"github.com/protorelay/gateway/relayerr"
)

func main() {
	cfgPath := os.Getenv("GATEWAY_CONFIG")
	if cfgPath == "" {
		log.Fatal("GATEWAY_CONFIG must point to a JSON or YAML gateway config")
	}

	cfg, err := aigateway.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := aigateway.ValidateConfig(*cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	gw, err := aigateway.NewFromConfig(*cfg)
	if err != nil {
		log.Fatalf("building gateway: %v", err)
	}

	r := newRouter(gw)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := gw.Close(shutdownCtx, 10*time.Second); err != nil {
			log.Printf("gateway drain error: %v", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("protorelay %s listening on %s (%d provider(s))", version.Short(), addr, len(cfg.Providers))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err) //nolint:gocritic
	}
	log.Println("server stopped.")
}

func newRouter(gw *aigateway.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(traceMiddleware)
	r.Use(logging.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/status", statusHandler(gw))
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version.String()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/messages", messagesHandler(gw))

	return r
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), logging.NewTraceID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func messagesHandler(gw *aigateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientschema.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if req.Stream {
			streamMessages(gw, w, r, &req)
			return
		}

		resp, err := gw.Route(r.Context(), &req)
		if err != nil {
			status := errStatus(err)
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// streamMessages serves a stream:true /v1/messages request as an SSE
// response, one "event: <type>\ndata: <json>\n\n" frame per
// clientschema.StreamEvent gateway.RouteStream emits. If the client
// disconnects mid-stream, the request context is cancelled and
// RouteStream reports that up as OutcomeCancelled rather than a failure
// (§5 "Cancellation semantics"); nothing further is written in that
// case since there's no peer left to receive it.
func streamMessages(gw *aigateway.Gateway, w http.ResponseWriter, r *http.Request, req *clientschema.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by this response writer")
		return
	}

	headersSent := false
	sendHeaders := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		headersSent = true
	}

	err := gw.RouteStream(r.Context(), req, func(ev *clientschema.StreamEvent) error {
		if !headersSent {
			sendHeaders()
		}
		payload, merr := json.Marshal(ev)
		if merr != nil {
			return merr
		}
		if _, werr := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(payload) + "\n\n")); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err == nil {
		return
	}
	if !headersSent {
		writeError(w, errStatus(err), err.Error())
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"type": "error", "error": err.Error()})
	_, _ = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
	flusher.Flush()
}

func statusHandler(gw *aigateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		bindings := gw.Registry().All()
		out := make([]map[string]interface{}, 0, len(bindings))
		for _, p := range bindings {
			out = append(out, map[string]interface{}{
				"binding":             p.ID(),
				"state":               p.State(),
				"in_flight":           p.InFlight(),
				"avg_latency_ms":      p.AvgLatencyMs(),
				"circuit_state":       p.CircuitBreaker().State().String(),
				"circuit_breaker_for": p.CircuitBreaker().BindingID(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"pipelines": out})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": "gateway_error"},
	})
}

func errStatus(err error) int {
	var relErr *relayerr.Error
	if relayerr.As(err, &relErr) {
		return relErr.HTTPStatus()
	}
	return http.StatusBadGateway
}

// Command relay is the dumb-forwarder server assumed by spec.md §6.4:
// it stores published bundles, queues envelopes per recipient, and
// otherwise understands nothing about the protocol it carries. It never
// inspects an Envelope's header or cipher bytes, only its length and
// timestamp.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
)

const (
	defaultPort = 8080

	readHeaderTO = 5 * time.Second
	readTO       = 10 * time.Second
	writeTO      = 10 * time.Second
	idleTO       = 60 * time.Second

	maxRequestBody  = 1 << 20 // 1 MiB
	maxPerUserQueue = 1000
	maxCipherBytes  = 64 << 10 // 64 KiB
	maxOneTimeKeys  = 500
	maxFutureSkew   = 10 * time.Minute
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wasp_relay_queue_depth",
		Help: "Number of envelopes currently queued per recipient",
	}, []string{"user_id"})

	bundlesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wasp_relay_bundles_registered",
		Help: "Number of distinct user bundles currently on file",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wasp_relay_requests_total",
		Help: "Total HTTP requests handled, by route and status",
	}, []string{"route", "status"})

	envelopesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasp_relay_envelopes_enqueued_total",
		Help: "Total envelopes accepted onto a recipient's queue",
	})

	envelopesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasp_relay_envelopes_dropped_total",
		Help: "Total envelopes dropped because a recipient's queue was full",
	})
)

type ctxKey int

const ctxKeyReqID ctxKey = 0

// bundle is the stored shape of a registered identity, matching the
// wire fields internal/relay.Bundle round-trips.
type bundle struct {
	UserID          string
	RegistrationID  uint16
	IdentityDHPub   string
	IdentitySignPub string
	SignedPreKeyID  uint32
	SignedPreKeyPub string
	Signature       string
	Canary          string
	OneTimeKeys     []otk
}

type otk struct {
	ID  uint32 `json:"id"`
	Pub string `json:"pub"`
}

// envelope is the stored shape of one queued message: the routing
// wrapper internal/relay.Message plus whatever the protocol-level
// envelope contained, carried opaquely as a raw JSON blob. The relay
// never decodes it.
type envelope struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"`
	Envelope  json.RawMessage `json:"envelope"`
}

type state struct {
	mu      sync.RWMutex
	bundles map[string]bundle
	queues  map[string][]envelope
}

func newState() *state {
	return &state{
		bundles: make(map[string]bundle),
		queues:  make(map[string][]envelope),
	}
}

func main() {
	var port int
	var enableLogging bool
	pflag.IntVar(&port, "port", defaultPort, "port to listen on")
	pflag.BoolVar(&enableLogging, "log", true, "enable structured request logging")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if !enableLogging {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	st := newState()
	mux := http.NewServeMux()
	mux.Handle("/register", chain(http.HandlerFunc(st.handleRegister), withRecover(logger), withReqID, withLogging(logger)))
	mux.Handle("/prekey/", chain(http.HandlerFunc(st.handleGet), withRecover(logger), withReqID, withLogging(logger)))
	mux.Handle("/account/", chain(http.HandlerFunc(st.handleAccountCanary), withRecover(logger), withReqID, withLogging(logger)))
	mux.Handle("/msg/", chain(http.HandlerFunc(st.handleMsg), withRecover(logger), withReqID, withLogging(logger)))
	mux.Handle("/healthz", http.HandlerFunc(handleHealthz))
	mux.Handle("/metrics", promhttp.Handler())

	corsMW := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           corsMW.Handler(mux),
		ReadHeaderTimeout: readHeaderTO,
		ReadTimeout:       readTO,
		WriteTimeout:      writeTO,
		IdleTimeout:       idleTO,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// --- middleware ---

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withRecover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic", "err", rec, "path", r.URL.Path)
					writeErr(w, http.StatusInternalServerError, "internal error")
				}
			}()
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
			next.ServeHTTP(w, r)
		})
	}
}

func withReqID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyReqID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)
			requestsTotal.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(lw.status)).Inc()
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.status,
				"duration", time.Since(start),
				"req_id", requestIDFromCtx(r.Context()),
				"remote", clientIP(r),
			)
		})
	}
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyReqID).(string)
	return id
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

// routeLabel collapses a path carrying a user id into its template, so
// the requests_total cardinality stays bounded by route count, not by
// user count.
func routeLabel(path string) string {
	switch {
	case path == "/register":
		return "/register"
	case strings.HasPrefix(path, "/prekey/"):
		return "/prekey/{user}"
	case strings.HasPrefix(path, "/account/"):
		return "/account/{user}/canary"
	case strings.HasSuffix(path, "/ack"):
		return "/msg/{user}/ack"
	case strings.HasPrefix(path, "/msg/"):
		return "/msg/{user}"
	default:
		return path
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request) int {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return 0
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func pathTail(prefix, path string) string {
	return strings.TrimPrefix(strings.TrimSuffix(path, "/"), prefix)
}

// --- handlers ---

func (s *state) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		UserID          string `json:"user_id"`
		RegistrationID  uint16 `json:"registration_id"`
		IdentityDHPub   string `json:"identity_dh_pub"`
		IdentitySignPub string `json:"identity_sign_pub"`
		SignedPreKeyID  uint32 `json:"signed_prekey_id"`
		SignedPreKeyPub string `json:"signed_prekey_pub"`
		Signature       string `json:"signature"`
		Canary          string `json:"canary"`
		OneTimeKeys     []otk  `json:"one_time_prekeys"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if isZero(payload.UserID, payload.IdentityDHPub, payload.IdentitySignPub, payload.SignedPreKeyPub, payload.Signature, payload.Canary) {
		writeErr(w, http.StatusBadRequest, "missing required field")
		return
	}
	if len(payload.OneTimeKeys) > maxOneTimeKeys {
		writeErr(w, http.StatusBadRequest, "too many one-time pre-keys")
		return
	}

	s.mu.Lock()
	_, existed := s.bundles[payload.UserID]
	s.bundles[payload.UserID] = bundle{
		UserID:          payload.UserID,
		RegistrationID:  payload.RegistrationID,
		IdentityDHPub:   payload.IdentityDHPub,
		IdentitySignPub: payload.IdentitySignPub,
		SignedPreKeyID:  payload.SignedPreKeyID,
		SignedPreKeyPub: payload.SignedPreKeyPub,
		Signature:       payload.Signature,
		Canary:          payload.Canary,
		OneTimeKeys:     payload.OneTimeKeys,
	}
	if !existed {
		bundlesRegistered.Inc()
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *state) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := pathTail("/prekey/", r.URL.Path)
	if user == "" {
		writeErr(w, http.StatusBadRequest, "missing user id")
		return
	}

	s.mu.Lock()
	b, ok := s.bundles[user]
	if !ok {
		s.mu.Unlock()
		writeErr(w, http.StatusNotFound, "unknown user")
		return
	}
	var popped *otk
	if len(b.OneTimeKeys) > 0 {
		k := b.OneTimeKeys[0]
		popped = &k
		b.OneTimeKeys = b.OneTimeKeys[1:]
		s.bundles[user] = b
	}
	s.mu.Unlock()

	out := struct {
		UserID          string  `json:"user_id"`
		RegistrationID  uint16  `json:"registration_id"`
		IdentityDHPub   string  `json:"identity_dh_pub"`
		IdentitySignPub string  `json:"identity_sign_pub"`
		SignedPreKeyID  uint32  `json:"signed_prekey_id"`
		SignedPreKeyPub string  `json:"signed_prekey_pub"`
		Signature       string  `json:"signature"`
		Canary          string  `json:"canary"`
		OneTimeKeyID    *uint32 `json:"one_time_prekey_id,omitempty"`
		OneTimeKeyPub   *string `json:"one_time_prekey_pub,omitempty"`
	}{
		UserID:          b.UserID,
		RegistrationID:  b.RegistrationID,
		IdentityDHPub:   b.IdentityDHPub,
		IdentitySignPub: b.IdentitySignPub,
		SignedPreKeyID:  b.SignedPreKeyID,
		SignedPreKeyPub: b.SignedPreKeyPub,
		Signature:       b.Signature,
		Canary:          b.Canary,
	}
	if popped != nil {
		id := popped.ID
		pub := popped.Pub
		out.OneTimeKeyID = &id
		out.OneTimeKeyPub = &pub
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *state) handleAccountCanary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := pathTail("/account/", strings.TrimSuffix(r.URL.Path, "/canary"))
	if user == "" {
		writeErr(w, http.StatusBadRequest, "missing user id")
		return
	}

	s.mu.RLock()
	b, ok := s.bundles[user]
	s.mu.RUnlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"canary": b.Canary})
}

// handleMsg dispatches the three /msg/{user} routes: the ack suffix
// takes priority, then method determines enqueue vs fetch.
func (s *state) handleMsg(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/ack") {
		s.handleAck(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleEnqueue(w, r)
	case http.MethodGet:
		s.handleFetch(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *state) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	user := pathTail("/msg/", r.URL.Path)
	if user == "" {
		writeErr(w, http.StatusBadRequest, "missing user id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var msg envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg.To != user {
		writeErr(w, http.StatusBadRequest, "to does not match route")
		return
	}
	if isZero(msg.From, msg.To) || len(msg.Envelope) == 0 {
		writeErr(w, http.StatusBadRequest, "missing required field")
		return
	}
	if len(msg.Envelope) > maxCipherBytes {
		writeErr(w, http.StatusRequestEntityTooLarge, "envelope too large")
		return
	}
	now := time.Now()
	ts := time.Unix(msg.Timestamp, 0)
	if ts.After(now.Add(maxFutureSkew)) {
		writeErr(w, http.StatusBadRequest, "timestamp too far in the future")
		return
	}

	s.mu.Lock()
	q := s.queues[user]
	q = append(q, msg)
	dropped := 0
	for len(q) > maxPerUserQueue {
		q = q[1:]
		dropped++
	}
	s.queues[user] = q
	s.mu.Unlock()

	envelopesEnqueued.Inc()
	if dropped > 0 {
		envelopesDropped.Add(float64(dropped))
	}
	queueDepth.WithLabelValues(user).Set(float64(len(q)))

	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *state) handleFetch(w http.ResponseWriter, r *http.Request) {
	user := pathTail("/msg/", r.URL.Path)
	if user == "" {
		writeErr(w, http.StatusBadRequest, "missing user id")
		return
	}
	limit := parseLimit(r)

	s.mu.RLock()
	q := s.queues[user]
	n := len(q)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]envelope, n)
	copy(out, q[:n])
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *state) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := pathTail("/msg/", strings.TrimSuffix(r.URL.Path, "/ack"))
	if user == "" {
		writeErr(w, http.StatusBadRequest, "missing user id")
		return
	}
	var payload struct {
		Count int `json:"count"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if payload.Count < 0 {
		writeErr(w, http.StatusBadRequest, "negative count")
		return
	}

	s.mu.Lock()
	q := s.queues[user]
	n := payload.Count
	if n > len(q) {
		n = len(q)
	}
	s.queues[user] = q[n:]
	queueDepth.WithLabelValues(user).Set(float64(len(s.queues[user])))
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

func isZero(fields ...string) bool {
	for _, f := range fields {
		if f == "" {
			return true
		}
	}
	return false
}

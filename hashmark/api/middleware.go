package api

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-Id"

type ctxKey int

const requestIDKey ctxKey = 0

func requestIDOf(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID tags each request with the caller's X-Request-Id or a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.log.Debug("Served request", "id", requestIDOf(r.Context()), "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "size", rec.size, "elapsed", time.Since(start))
		if rec.status >= 500 {
			metrics.GetOrRegisterCounter("api/errors", nil).Inc(1)
		}
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("Handler panicked", "id", requestIDOf(r.Context()), "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "Internal server error.", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// route registers h under pattern and times it as api/<name>.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	timer := "api/" + name
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		defer metrics.GetOrRegisterTimer(timer, nil).UpdateSince(time.Now())
		h(w, r)
	})
}

// limiter keeps one token bucket per client address. Idle clients are
// evicted once the table is full.
type limiter struct {
	perMinute int
	clients   *lru.Cache
}

func newLimiter(perMinute, clients int) (*limiter, error) {
	if clients <= 0 {
		clients = 4096
	}
	cache, err := lru.New(clients)
	if err != nil {
		return nil, err
	}
	return &limiter{perMinute: perMinute, clients: cache}, nil
}

func (l *limiter) allow(client string) bool {
	v, ok := l.clients.Get(client)
	if !ok {
		lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		if prev, loaded, _ := l.clients.PeekOrAdd(client, lim); loaded {
			v = prev
		} else {
			v = lim
		}
	}
	return v.(*rate.Limiter).Allow()
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientAddr(r)) {
			metrics.GetOrRegisterCounter("api/throttled", nil).Inc(1)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many requests, slow down.", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

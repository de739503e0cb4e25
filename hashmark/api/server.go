// Package api exposes the node over HTTP. All routes live under /api and
// speak JSON, except the PDF rendering of certificates.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/hashmark-protocol/hashmark/hashmark/artifact"
	"github.com/hashmark-protocol/hashmark/hashmark/config"
	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/journal"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
	"github.com/hashmark-protocol/hashmark/hashmark/workflow"
)

// Ledger is what the handlers need from the gateway.
type Ledger interface {
	workflow.Ledger
	LocateProof(ctx context.Context, d fingerprint.Digest) (*proof.VerificationResult, error)
	Stats(ctx context.Context) (*ledger.Stats, error)
	Recent(ctx context.Context, limit int) (*ledger.Listing, error)
	Info(ctx context.Context) *ledger.Info
	Fund(ctx context.Context, addr common.Address) error
}

var _ Ledger = (*ledger.Gateway)(nil)

type Option func(*Server)

// WithSigner enables server-side authentication signed by p.
func WithSigner(p wallet.Provider) Option {
	return func(s *Server) { s.signer = p }
}

func WithJournal(j *journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

func WithBuilder(b *artifact.Builder) Option {
	return func(s *Server) { s.builder = b }
}

func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.log = l }
}

type Server struct {
	cfg      config.HTTPConfig
	ledger   Ledger
	signer   wallet.Provider
	auth     *workflow.Authenticator
	verifier *workflow.Verifier
	builder  *artifact.Builder
	journal  *journal.Journal
	limiter  *limiter
	log      log.Logger

	http *http.Server
}

func New(cfg config.HTTPConfig, l Ledger, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, ledger: l, log: log.New("module", "api")}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = artifact.NewBuilder(cfg.FrontendURL, artifact.WithQRCache(cfg.QRCacheSize))
	}
	if s.signer != nil {
		s.auth = workflow.NewAuthenticator(l, s.signer, workflow.WithLogger(s.log))
	}
	s.verifier = workflow.NewVerifier(l)
	if cfg.RateLimit > 0 {
		lim, err := newLimiter(cfg.RateLimit, cfg.RateClients)
		if err != nil {
			return nil, err
		}
		s.limiter = lim
	}
	return s, nil
}

// Handler is the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", "health", s.handleHealth)
	s.route(mux, "GET /api/info", "info", s.handleInfo)
	s.route(mux, "POST /api/hash/file", "hash_file", s.handleHashFile)
	s.route(mux, "POST /api/hash/raw", "hash_raw", s.handleHashRaw)
	s.route(mux, "POST /api/authenticate", "authenticate", s.handleAuthenticate)
	s.route(mux, "GET /api/verify/{hash}", "verify", s.handleVerify)
	s.route(mux, "GET /api/stats", "stats", s.handleStats)
	s.route(mux, "GET /api/recent", "recent", s.handleRecent)
	s.route(mux, "GET /api/qr/{hash}", "qr", s.handleQR)
	s.route(mux, "GET /api/certificate/{hash}", "certificate", s.handleCertificate)
	s.route(mux, "GET /api/receipts", "receipts", s.handleReceipts)
	s.route(mux, "POST /api/faucet", "faucet", s.handleFaucet)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.", "")
	})

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	h = s.recoverer(h)
	h = s.accessLog(h)
	h = requestID(h)
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{requestIDHeader, "ETag"},
	}).Handler(h)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()
	s.log.Info("HTTP server started", "addr", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("HTTP server stopping")
	err := s.http.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

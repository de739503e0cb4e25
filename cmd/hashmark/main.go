// hashmark runs the video authentication node: an HTTP API in front of the
// on-chain registry, plus one-shot hash, verify and authenticate commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"gopkg.in/urfave/cli.v1"

	"github.com/hashmark-protocol/hashmark/hashmark/api"
	"github.com/hashmark-protocol/hashmark/hashmark/artifact"
	"github.com/hashmark-protocol/hashmark/hashmark/config"
	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/util/jsonutil"
	"github.com/hashmark-protocol/hashmark/hashmark/workflow"
)

var (
	ConfigFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "YAML configuration file",
		EnvVar: "HASHMARK_CONFIG",
	}
	EnvFileFlag = cli.StringFlag{
		Name:  "envfile",
		Usage: ".env file loaded before the environment is read",
		Value: ".env",
	}
	PortFlag = cli.IntFlag{
		Name:  "port",
		Usage: "HTTP listen port",
	}
	RPCFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "ledger JSON-RPC endpoint",
	}
	VerbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (trace, debug, info, warn, error, crit)",
	}
	LogJSONFlag = cli.BoolFlag{
		Name:  "log.json",
		Usage: "emit logs as JSON",
	}
	// Read directly from os.Args by the metrics package at init.
	MetricsFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "enable metrics collection",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "hashmark"
	app.Usage = "video fingerprint registration and verification node"
	app.Flags = []cli.Flag{ConfigFlag, EnvFileFlag, PortFlag, RPCFlag, VerbosityFlag, LogJSONFlag, MetricsFlag}
	app.Action = serveCmd
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API",
			Action: serveCmd,
		},
		{
			Name:      "hash",
			Usage:     "print the fingerprint of a file, or stdin for -",
			ArgsUsage: "<file|->",
			Action:    hashCmd,
		},
		{
			Name:      "verify",
			Usage:     "look a fingerprint up on the ledger",
			ArgsUsage: "<hash>",
			Action:    verifyCmd,
		},
		{
			Name:      "authenticate",
			Usage:     "register a fingerprint with the server signer",
			ArgsUsage: "<hash>",
			Action:    authenticateCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration from file, .env, environment and flags,
// and installs the root logger.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(ctx.GlobalString(EnvFileFlag.Name)); err != nil {
		return nil, err
	}
	cfg, err := config.Load(ctx.GlobalString(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.GlobalIsSet(PortFlag.Name) {
		cfg.HTTP.Port = ctx.GlobalInt(PortFlag.Name)
	}
	if ctx.GlobalIsSet(RPCFlag.Name) {
		cfg.Ledger.RPCURL = ctx.GlobalString(RPCFlag.Name)
	}
	if ctx.GlobalIsSet(VerbosityFlag.Name) {
		cfg.Log.Level = ctx.GlobalString(VerbosityFlag.Name)
	}
	if ctx.GlobalBool(LogJSONFlag.Name) {
		cfg.Log.Format = "json"
	}
	if ctx.GlobalBool(MetricsFlag.Name) {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := cfg.Log.Lvl()
	if cfg.Log.Format == "json" {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stderr, lvl)))
	} else {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	}
	if cfg.Metrics.Enabled && !metrics.Enabled {
		log.Warn("Metrics requested in configuration; pass --metrics to collect them")
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	opts := []api.Option{api.WithBuilder(artifact.NewBuilder(cfg.HTTP.FrontendURL, artifact.WithQRCache(cfg.HTTP.QRCacheSize)))}
	if n.signer != nil {
		opts = append(opts, api.WithSigner(n.signer))
	}
	if n.journal != nil {
		opts = append(opts, api.WithJournal(n.journal))
	}
	srv, err := api.New(cfg.HTTP, n.gateway, opts...)
	if err != nil {
		return err
	}

	runCtx, stop := signalContext()
	defer stop()
	startMetrics(runCtx, cfg.Metrics)
	log.Info("Starting hashmark node", "addr", cfg.Addr(), "rpc", cfg.Ledger.RPCURL, "contract", cfg.Ledger.ContractAddress)
	return srv.ListenAndServe(runCtx, cfg.Addr())
}

type metricsLogger struct{}

func (metricsLogger) Printf(format string, v ...interface{}) {
	log.Debug(fmt.Sprintf(format, v...))
}

func startMetrics(ctx context.Context, cfg config.MetricsConfig) {
	if !metrics.Enabled {
		return
	}
	if cfg.LogInterval > 0 {
		go metrics.LogScaled(metrics.DefaultRegistry, cfg.LogInterval, time.Millisecond, metricsLogger{})
	}
	if cfg.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/debug/metrics", exp.ExpHandler(metrics.DefaultRegistry))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Metrics endpoint started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics endpoint failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

func hashCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("usage: hashmark hash <file|->")
	}
	var r io.Reader = os.Stdin
	if name := ctx.Args().First(); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	d, _, err := fingerprint.SumReader(r)
	if err != nil {
		return err
	}
	fmt.Println(d.Hex())
	return nil
}

func digestArg(ctx *cli.Context, cmd string) (fingerprint.Digest, error) {
	if ctx.NArg() != 1 {
		return fingerprint.Digest{}, fmt.Errorf("usage: hashmark %s <hash>", cmd)
	}
	return fingerprint.ParseDigest(ctx.Args().First())
}

func verifyCmd(ctx *cli.Context) error {
	d, err := digestArg(ctx, "verify")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	runCtx, stop := signalContext()
	defer stop()
	v := workflow.NewVerifier(n.gateway).Verify(runCtx, workflow.FromDigest(d))
	if v.Status == workflow.StatusError {
		return fmt.Errorf("verify %s: %s: %w", d, v.Failure, v.Err)
	}
	os.Stdout.Write(append(jsonutil.MustEncodePretty(v.Result), '\n'))
	return nil
}

func authenticateCmd(ctx *cli.Context) error {
	d, err := digestArg(ctx, "authenticate")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer n.Close()
	if n.signer == nil {
		return errors.New("authenticate: no server signer configured (set PRIVATE_KEY or wallet.keystore_dir)")
	}

	runCtx, stop := signalContext()
	defer stop()
	out := workflow.NewAuthenticator(n.gateway, n.signer).Authenticate(runCtx, workflow.FromDigest(d))
	switch out.State {
	case workflow.Confirmed:
		if n.journal != nil {
			if _, err := n.journal.Append(out.Record); err != nil {
				log.Error("Journal append failed", "err", err)
			}
		}
		os.Stdout.Write(append(jsonutil.MustEncodePretty(out.Record), '\n'))
		return nil
	case workflow.Failed:
		return fmt.Errorf("authenticate %s: %s: %w", d, out.Failure, out.Err)
	}
	return fmt.Errorf("authenticate %s: stopped in %s (tx %s): %w", d, out.State, out.TxHash.Hex(), out.Err)
}

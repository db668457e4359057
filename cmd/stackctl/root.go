package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/stackwire/internal/config"
	"github.com/danmuck/stackwire/internal/logging"
	"github.com/danmuck/stackwire/internal/observability"
	"github.com/danmuck/stackwire/internal/stack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app carries the state one stackctl invocation shares across its subcommands.
type app struct {
	cfgFile string
	cfg     cliConfig

	// Ad-hoc connection flags; --address bypasses the profiles file.
	address    string
	database   string
	cipher     string
	root       bool
	credEnv    string
	dialWindow time.Duration

	conn    *stack.Conn
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: defaultCLIConfig()}

	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Inspect and drive a stack server",
		Long: `stackctl opens a session against a stack server, lists and describes its globals
and procedures, and calls procedures with typed arguments.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "stackctl settings file (TOML)")
	flags.StringVar(&a.cfg.ProfilesPath, "profiles", a.cfg.ProfilesPath, "profiles file")
	flags.StringVarP(&a.cfg.Profile, "profile", "p", "", "profile name (default is the file's default)")
	flags.StringVarP(&a.cfg.Output, "output", "o", a.cfg.Output, "output format: table, plain")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level")
	flags.StringVar(&a.cfg.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	flags.StringVar(&a.address, "address", "", "server address; skips the profiles file")
	flags.StringVar(&a.database, "database", "", "database name used with --address")
	flags.StringVar(&a.cipher, "cipher", "", "cipher required with --address")
	flags.BoolVar(&a.root, "root", false, "authenticate as root with --address")
	flags.StringVar(&a.credEnv, "credential-env", "", "environment variable holding the credential used with --address")
	flags.DurationVar(&a.dialWindow, "timeout", 10*time.Second, "bound on connecting")

	root.AddCommand(
		a.pingCmd(),
		a.globalsCmd(),
		a.procsCmd(),
		a.describeCmd(),
		a.callCmd(),
		a.credentialCmd(),
	)
	return root
}

// setup layers the settings file under any explicitly set flags, then configures logging
// and the optional metrics listener.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.cfgFile != "" {
		fileCfg, err := loadCLIConfig(a.cfgFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("profiles") {
			a.cfg.ProfilesPath = fileCfg.ProfilesPath
		}
		if !flags.Changed("profile") {
			a.cfg.Profile = fileCfg.Profile
		}
		if !flags.Changed("output") {
			a.cfg.Output = fileCfg.Output
		}
		if !flags.Changed("log-level") {
			a.cfg.LogLevel = fileCfg.LogLevel
		}
		if !flags.Changed("metrics-addr") {
			a.cfg.MetricsAddr = fileCfg.MetricsAddr
		}
	}
	if err := a.cfg.validate(); err != nil {
		return err
	}

	logging.ConfigureRuntime()
	if lvl, ok := logging.ParseLevel(a.cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	if a.cfg.MetricsAddr != "" {
		return a.serveMetrics(a.cfg.MetricsAddr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", ln.Addr().String()).Msg("stackctl: serving metrics")
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("stackctl: metrics listener stopped")
		}
	}()
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	if a.metrics != nil {
		_ = a.metrics.Close()
		a.metrics = nil
	}
	return nil
}

// profile resolves the connection target: the ad-hoc flags when --address is set,
// otherwise the selected entry of the profiles file.
func (a *app) profile() (config.Profile, error) {
	if a.address != "" {
		p := config.Profile{
			Address:  a.address,
			Database: a.database,
			Cipher:   a.cipher,
			Root:     a.root,
		}
		if a.credEnv != "" {
			p.Credential = config.CredentialConfig{Source: "env", Value: a.credEnv}
		}
		return p, config.ValidateProfile(p)
	}
	file, err := config.LoadProfiles(a.cfg.ProfilesPath)
	if err != nil {
		return config.Profile{}, err
	}
	return file.Profile(a.cfg.Profile)
}

// connect opens the stack connection once per invocation.
func (a *app) connect(ctx context.Context) (*stack.Conn, error) {
	if a.conn != nil {
		return a.conn, nil
	}
	p, err := a.profile()
	if err != nil {
		return nil, err
	}
	scfg, err := p.SessionConfig()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.dialWindow)
	defer cancel()
	conn, err := stack.Open(ctx, scfg, p.StackConfig())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", scfg.Address, err)
	}
	a.conn = conn
	return conn, nil
}

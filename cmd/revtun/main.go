// Command revtun is the entry point for the reverse-tunnel server and
// client described in spec.md. It supports two subcommands:
//
//	revtun server    - run the tunnel server (proxy + registration API)
//	revtun client    - register a subdomain and forward it to a local service
//
// Configuration is layered from defaults, an optional .env file, REVTUN_-
// prefixed environment variables, and finally these CLI flags, which take
// final precedence (internal/config).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/revtun/revtun/internal/auth"
	"github.com/revtun/revtun/internal/client"
	"github.com/revtun/revtun/internal/config"
	"github.com/revtun/revtun/internal/server"
	"github.com/revtun/revtun/internal/server/api"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "revtun",
		Short: "A reverse tunnel server and client",
	}
	root.AddCommand(newServerCmd())
	root.AddCommand(newClientCmd())
	return root
}

func newServerCmd() *cobra.Command {
	var (
		envFile     string
		logFile     string
		domain      string
		apiPort     int
		proxyPort   int
		secure      bool
		maxSockets  int
		requireAuth bool
		authBackend string
		pamService  string
		credDB      string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the tunnel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(envFile)
			if err != nil {
				return err
			}
			applyServerFlags(cmd, cfg, domain, apiPort, proxyPort, secure, maxSockets, requireAuth, authBackend, pamService, credDB, logFile)
			configureLogOutput(cfg.LogFile)

			validator, err := buildValidator(cfg)
			if err != nil {
				return err
			}

			srvCfg := server.Config{
				Domain:        cfg.Domain,
				APIPort:       cfg.APIPort,
				ProxyPort:     cfg.ProxyPort,
				Secure:        cfg.Secure,
				MaxSockets:    cfg.MaxSockets,
				RequireAuth:   cfg.RequireAuth,
				CleanupPeriod: cfg.CleanupPeriod,
			}

			mounter := func(registry *server.Registry) server.APIMounter {
				return api.NewHandler(registry, validator, cfg.Domain, cfg.Secure, cfg.RequireAuth, cfg.MaxSockets)
			}

			return server.Run(srvCfg, mounter)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&envFile, "env-file", "", "path to a .env file to load before flags are applied")
	flags.StringVar(&logFile, "log-file", "", "write logs to this file (rotated via lumberjack) instead of stderr")
	flags.StringVar(&domain, "domain", "", "base domain tunnel subdomains are served under")
	flags.IntVarP(&apiPort, "port", "p", 0, "registration API port")
	flags.IntVar(&proxyPort, "proxy-port", 0, "public-facing reverse-proxy port")
	flags.BoolVar(&secure, "secure", false, "advertise https:// URLs to registering clients")
	flags.IntVar(&maxSockets, "max-sockets", 0, "idle tunnel-socket pool capacity per subdomain")
	flags.BoolVar(&requireAuth, "require-auth", false, "require a credential on registration")
	flags.StringVar(&authBackend, "auth-backend", "", "credential backend: none, pam, or static")
	flags.StringVar(&pamService, "pam-service", "", "PAM service name for the pam auth backend")
	flags.StringVar(&credDB, "credential-db", "", "path to the JSON credential store for the static auth backend")

	return cmd
}

func newClientCmd() *cobra.Command {
	var (
		envFile    string
		logFile    string
		host       string
		subdomain  string
		localHost  string
		localPort  int
		maxConn    int
		credential string
		secure     bool
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Register a subdomain and forward traffic to a local service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(envFile)
			if err != nil {
				return err
			}
			applyClientFlags(cmd, cfg, host, subdomain, localHost, localPort, maxConn, credential, logFile)
			configureLogOutput(cfg.LogFile)

			d := client.New(client.Config{
				Host:       cfg.Host,
				Secure:     secure,
				Subdomain:  cfg.Subdomain,
				LocalHost:  cfg.LocalHost,
				LocalPort:  cfg.LocalPort,
				MaxConn:    cfg.MaxConn,
				Credential: cfg.Credential,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			url, err := d.Open(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("tunnel established: %s\n", url)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&envFile, "env-file", "", "path to a .env file to load before flags are applied")
	flags.StringVar(&logFile, "log-file", "", "write logs to this file (rotated via lumberjack) instead of stderr")
	flags.StringVar(&host, "host", "", "revtun server's registration API host:port")
	flags.StringVar(&subdomain, "subdomain", "", "subdomain to request")
	flags.StringVar(&localHost, "local-host", "", "local service host to forward to")
	flags.IntVarP(&localPort, "port", "p", 0, "local service port to forward to")
	flags.IntVar(&maxConn, "max-conn", 0, "ceiling on concurrent tunnel workers")
	flags.StringVar(&credential, "credential", "", "credential to present when the server requires auth")
	flags.BoolVar(&secure, "secure", false, "use https for the registration API call")

	return cmd
}

// applyServerFlags overlays any flag explicitly set by the user onto cfg,
// which already carries defaults/.env/environment values — flags win last.
func applyServerFlags(cmd *cobra.Command, cfg *config.ServerConfig, domain string, apiPort, proxyPort int, secure bool, maxSockets int, requireAuth bool, authBackend, pamService, credDB, logFile string) {
	f := cmd.Flags()
	if f.Changed("domain") {
		cfg.Domain = domain
	}
	if f.Changed("port") {
		cfg.APIPort = apiPort
	}
	if f.Changed("proxy-port") {
		cfg.ProxyPort = proxyPort
	}
	if f.Changed("secure") {
		cfg.Secure = secure
	}
	if f.Changed("max-sockets") {
		cfg.MaxSockets = maxSockets
	}
	if f.Changed("require-auth") {
		cfg.RequireAuth = requireAuth
	}
	if f.Changed("auth-backend") {
		cfg.AuthBackend = authBackend
	}
	if f.Changed("pam-service") {
		cfg.PAMService = pamService
	}
	if f.Changed("credential-db") {
		cfg.CredentialDB = credDB
	}
	if f.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
}

func applyClientFlags(cmd *cobra.Command, cfg *config.ClientConfig, host, subdomain, localHost string, localPort, maxConn int, credential, logFile string) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = host
	}
	if f.Changed("subdomain") {
		cfg.Subdomain = subdomain
	}
	if f.Changed("local-host") {
		cfg.LocalHost = localHost
	}
	if f.Changed("port") {
		cfg.LocalPort = localPort
	}
	if f.Changed("max-conn") {
		cfg.MaxConn = maxConn
	}
	if f.Changed("credential") {
		cfg.Credential = credential
	}
	if f.Changed("log-file") {
		cfg.LogFile = logFile
	}
}

// buildValidator selects the auth.Validator backend named by cfg.AuthBackend.
func buildValidator(cfg *config.ServerConfig) (auth.Validator, error) {
	if !cfg.RequireAuth {
		return auth.AlwaysValid{}, nil
	}
	switch cfg.AuthBackend {
	case "", "none":
		return auth.AlwaysValid{}, nil
	case "pam":
		return auth.PAMStore{Service: cfg.PAMService}, nil
	case "static":
		if cfg.CredentialDB == "" {
			return nil, fmt.Errorf("config: --credential-db is required for the static auth backend")
		}
		return auth.NewStaticStore(cfg.CredentialDB)
	default:
		return nil, fmt.Errorf("config: unknown auth backend %q", cfg.AuthBackend)
	}
}

// configureLogOutput redirects the standard logger to a rotated file when
// logFile is set, via gopkg.in/natefinch/lumberjack.v2, matching the other
// pack repos' rotation idiom (thushan-olla's logging config supports the
// same file-plus-rotation shape).
func configureLogOutput(logFile string) {
	if logFile == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
}

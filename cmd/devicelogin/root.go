package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cli/browser"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wrale/devicelogin/internal/config"
	"github.com/wrale/devicelogin/internal/login"
	"github.com/wrale/devicelogin/internal/oauth"
	"github.com/wrale/devicelogin/internal/poller"
	"github.com/wrale/devicelogin/internal/tokenstore"
)

type globalFlags struct {
	configPath string
	serverURL  string
	clientID   string
	scope      string
	noBrowser  bool
	noColor    bool
	debug      bool
	force      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "devicelogin",
		Short:         "Sign in from the terminal with the OAuth 2.0 device flow",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.config/devicelogin/config.toml)")
	pf.StringVar(&flags.serverURL, "server", "", "authorization server URL")
	pf.StringVar(&flags.clientID, "client-id", "", "OAuth client ID")
	pf.StringVar(&flags.scope, "scope", "", "requested scope")
	pf.BoolVar(&flags.noBrowser, "no-browser", false, "never open a browser")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&flags.debug, "debug", false, "log protocol details to stderr")

	root.AddCommand(
		loginCmd(flags),
		logoutCmd(flags),
		statusCmd(flags),
		whoamiCmd(flags),
		configCmd(flags),
	)
	return root
}

func loginCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.orchestrator(cmd)
			if err != nil {
				return err
			}
			return o.Login(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "log in again without asking when a valid token exists")
	return cmd
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.orchestrator(cmd)
			if err != nil {
				return err
			}
			return o.Logout(cmd.Context())
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a valid token is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.orchestrator(cmd)
			if err != nil {
				return err
			}
			return o.Status(cmd.Context())
		},
	}
}

func whoamiCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user behind the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.orchestrator(cmd)
			if err != nil {
				return err
			}
			return o.WhoAmI(cmd.Context())
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the CLI configuration file",
	}

	var encrypt bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the existing file and the current flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := flags.path()
			if err != nil {
				return err
			}
			// Environment overrides and defaults stay out of the file
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if encrypt && cfg.TokenKey == "" {
				key, err := tokenstore.GenerateKey()
				if err != nil {
					return err
				}
				cfg.TokenKey = key
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&encrypt, "encrypt", false, "generate a key and encrypt the token file")

	cmd.AddCommand(initCmd)
	return cmd
}

// path returns the --config value or the default config file path
func (f *globalFlags) path() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	return config.DefaultPath()
}

// load resolves the config file path and applies flags over file and environment
func (f *globalFlags) load() (string, *config.Config, error) {
	path, err := f.path()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	f.apply(cfg)
	return path, cfg, nil
}

// apply copies flags that were set onto cfg
func (f *globalFlags) apply(cfg *config.Config) {
	if f.serverURL != "" {
		cfg.ServerURL = f.serverURL
	}
	if f.clientID != "" {
		cfg.ClientID = f.clientID
	}
	if f.scope != "" {
		cfg.Scope = f.scope
	}
	if f.noBrowser {
		no := false
		cfg.OpenBrowser = &no
	}
}

func (f *globalFlags) logger(w io.Writer) *slog.Logger {
	if !f.debug {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// orchestrator wires the login steps for cmd
func (f *globalFlags) orchestrator(cmd *cobra.Command) (*login.Orchestrator, error) {
	_, cfg, err := f.load()
	if err != nil {
		return nil, err
	}

	logger := f.logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	store, err := cfg.TokenStore()
	if err != nil {
		return nil, err
	}

	client, err := oauth.NewClient(cfg.ServerURL, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	engine := poller.New(client,
		poller.WithLogger(logger),
		poller.OnAttempt(func(attempt int, interval time.Duration) {
			logger.Debug("polling token endpoint", "attempt", attempt, "interval", interval)
		}),
		poller.OnSlowDown(func(interval time.Duration) {
			logger.Debug("server asked to slow down", "interval", interval)
		}),
	)

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	var prompter login.Prompter = login.AutoPrompter{}
	if interactive {
		prompter = login.NewLinePrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	opts := []login.Option{
		login.WithOutput(cmd.OutOrStdout()),
		login.WithPrompter(prompter),
		login.WithScope(cfg.Scope),
		login.WithUserInfo(client),
		login.WithLogger(logger),
		login.WithSpinner(interactive && !f.debug),
		login.WithForce(f.force),
	}
	if cfg.BrowserEnabled() && interactive {
		opts = append(opts, login.WithBrowser(openBrowser))
	}

	return login.New(cfg.ClientID, client, engine, store, opts...), nil
}

func openBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}

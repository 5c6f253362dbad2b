// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"mellium.im/agent"
	"mellium.im/agent/config"
	"mellium.im/agent/transport"
	"mellium.im/xmpp/jid"
)

/* #nosec */
const (
	envAddr = "XMPP_ADDR"
	envPass = "XMPP_PASS"
)

// Version is set at build time.
var Version = "devel"

type logWriter struct {
	logger *slog.Logger
	msg    string
}

func (lw logWriter) Write(p []byte) (int, error) {
	lw.logger.Debug(lw.msg, "xml", string(p))
	return len(p), nil
}

type flags struct {
	config      string
	resource    string
	noRegister  bool
	noReconnect bool
	verbose     bool
	logXML      bool
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "agent.toml"
	}
	return filepath.Join(dir, "agent", "agent.toml")
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	fs := afero.NewOsFs()
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run an XMPP agent",
		Long: fmt.Sprintf(`agent connects to an XMPP server and answers the commands sent to it.

The account is read from the configuration file or from $%s and $%s.`, envAddr, envPass),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, fs, f)
		},
	}
	rootCmd.PersistentFlags().StringVar(&f.config, "config", defaultConfigPath(), "the configuration file")
	rootCmd.Flags().StringVar(&f.resource, "resource", "", "the resource to bind (defaults to the host name)")
	rootCmd.Flags().BoolVar(&f.noRegister, "no-register", false, "do not register the account if authentication fails")
	rootCmd.Flags().BoolVar(&f.noReconnect, "no-reconnect", false, "stop instead of reconnecting when the session fails")
	rootCmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "turns on verbose debug logging")
	rootCmd.Flags().BoolVar(&f.logXML, "vv", false, "turns on verbose debug and XML logging")

	rootCmd.AddCommand(
		newInitCmd(fs, f),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}

func newInitCmd(fs afero.Fs, f *flags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := fs.Stat(f.config); err == nil {
				return fmt.Errorf("%s already exists", f.config)
			}
			c := config.Default()
			c.XMPP.JID = addr
			if err := config.Write(fs, f.config, c); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", f.config)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "the address of the agent")
	return cmd
}

// loadConfig reads the configuration and binds the flags and the legacy
// environment variables to it.
func loadConfig(cmd *cobra.Command, fs afero.Fs, f *flags) (*config.Config, error) {
	c, err := config.Load(fs, f.config)
	if err != nil {
		return nil, err
	}
	v := c.Viper()
	if err := v.BindEnv(config.SectionXMPP+"."+config.KeyJID, "AGENT_XMPP_JID", envAddr); err != nil {
		return nil, err
	}
	if err := v.BindEnv(config.SectionXMPP+"."+config.KeyPassword, "AGENT_XMPP_PASSWORD", envPass); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("resource") {
		v.Set(config.SectionXMPP+"."+config.KeyResource, f.resource)
	}
	if f.noRegister {
		v.Set(config.SectionXMPP+"."+config.KeyAutoRegister, false)
	}
	if f.noReconnect {
		v.Set(config.SectionXMPP+"."+config.KeyAutoReconnect, false)
	}
	return c, nil
}

func newLogger(w io.Writer, f *flags) *slog.Logger {
	level := slog.LevelInfo
	if f.verbose || f.logXML {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newAgent builds the agent described by the configuration.
func newAgent(c *config.Config, t transport.Transport, logger *slog.Logger, fs afero.Fs) (*agent.Agent, error) {
	x := c.XMPP()
	// Return a sane error if the address is empty instead of erroring out when
	// we try to parse it.
	if x.JID == "" {
		return nil, fmt.Errorf("address not specified, set it in the configuration or in $%s", envAddr)
	}
	addr, err := jid.Parse(x.JID)
	if err != nil {
		return nil, fmt.Errorf("error parsing address %q: %w", x.JID, err)
	}
	if x.Password == "" {
		logger.Debug("the password is empty", "env", envPass)
	}

	opts := []agent.Option{
		agent.Logger(logger),
		agent.Config(c),
		agent.AvatarFs(fs),
		agent.AutoRegister(x.AutoRegister),
		agent.AutoReconnect(x.AutoReconnect),
		agent.Init(registerCommands),
		agent.Init(func(a *agent.Agent) {
			a.RegisterAuthAction(context.Background(), agent.Action{
				Name: "publish identity",
				Func: func(ctx context.Context, _ ...string) error {
					return a.SetIdentity(ctx, "agent", "")
				},
			})
		}),
	}
	if x.Resource != "" {
		opts = append(opts, agent.Resource(x.Resource))
	}
	return agent.New(addr, x.Password, t, opts...)
}

func run(cmd *cobra.Command, fs afero.Fs, f *flags) error {
	logger := newLogger(cmd.ErrOrStderr(), f)
	c, err := loadConfig(cmd, fs, f)
	if err != nil {
		return err
	}

	t := transport.NewSession(logger.With("component", "transport"))
	if f.logXML {
		t.TeeIn = logWriter{logger: logger, msg: "IN"}
		t.TeeOut = logWriter{logger: logger, msg: "OUT"}
	}
	a, err := newAgent(c, t, logger, fs)
	if err != nil {
		return err
	}

	// Handle SIGINT and SIGTERM and gracefully shut down the agent.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Connect(ctx); err != nil {
		return err
	}
	err = a.Loop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

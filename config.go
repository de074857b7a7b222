/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	database       string
	metrics        bool
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	// Client commands.
	duration time.Duration
	mute     bool
	server   string
	tokens   string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if strings.TrimSpace(c.database) == "" {
		return errors.New("--database must not be empty")
	}
	return nil
}

func (c *Config) validateClient() error {
	if strings.TrimSpace(c.server) == "" {
		return errors.New("--server must not be empty")
	}
	if c.duration < 0 {
		return fmt.Errorf("invalid spin duration (must not be negative): %s", c.duration)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func defaultTokenDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".spinnerly", "tokens")
	}
	return filepath.Join(dir, "spinnerly", "tokens")
}

// bindEnv lets every flag in fs be set through a SPINNERLY_* variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SPINNERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "spinnerly",
		Short:         "A shared spinning wheel that hands out materials to names, one spin at a time.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SPINNERLY_BIND)")
	fs.StringVarP(&cfg.database, "database", "d", "spinnerly.db", "path to the sqlite database (env: SPINNERLY_DATABASE)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: SPINNERLY_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SPINNERLY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SPINNERLY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SPINNERLY_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle room hubs are closed (env: SPINNERLY_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SPINNERLY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SPINNERLY_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SPINNERLY_VERSION)")

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalize)

	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SPINNERLY_VERBOSE)")

	bindEnv(v, fs)
	bindEnv(v, pfs)

	cmd.AddCommand(
		newCreateCmd(cfg, v),
		newJoinCmd(cfg, v),
		newHistoryCmd(cfg, v),
		newRoomsCmd(cfg, v),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("spinnerly v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// clientFlags registers the flags shared by every command that talks to a
// server.
func clientFlags(cfg *Config, cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)

	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "base URL of the spinnerly server (env: SPINNERLY_SERVER)")
	fs.StringVar(&cfg.tokens, "tokens", defaultTokenDir(), "directory holding creator tokens (env: SPINNERLY_TOKENS)")
}

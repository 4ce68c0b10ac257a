// Package cli implements the huddle terminal client.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/daap14/huddle/internal/client"
	"github.com/daap14/huddle/internal/code"
	"github.com/daap14/huddle/internal/lobby"
)

// Config holds the resolved command line settings.
type Config struct {
	server  string
	name    string
	code    string
	verbose bool
}

func (c *Config) validate(needCode bool) error {
	if strings.TrimSpace(c.name) == "" {
		return errors.New("--name is required (env: HUDDLE_NAME)")
	}
	if needCode {
		if strings.TrimSpace(c.code) == "" {
			return errors.New("--code is required (env: HUDDLE_CODE)")
		}
		if !code.Valid(code.Normalize(c.code)) {
			return fmt.Errorf("invalid team code %q: expected %d characters from %s", c.code, code.Length, code.Alphabet)
		}
	}
	return nil
}

// NewCommand builds the huddle root command. Input is read from in and the
// lobby is drawn on out.
func NewCommand(version string, in io.Reader, out io.Writer) *cobra.Command {
	cfg := &Config{}

	v := viper.New()
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "huddle",
		Short:         "Gather a team with a short code and start playing together.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogger(cmd.ErrOrStderr(), cfg.verbose)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "huddle server url (env: HUDDLE_SERVER)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: HUDDLE_VERBOSE)")
	bindEnv(v, pfs)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team and wait in its lobby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(false); err != nil {
				return err
			}
			return run(cmd, cfg, in, out, func(m *lobby.Machine) error {
				if err := m.ChooseCreate(); err != nil {
					return err
				}
				return m.Create(cmd.Context(), cfg.name)
			})
		},
	}
	createCmd.Flags().StringVarP(&cfg.name, "name", "n", "", "your display name (env: HUDDLE_NAME)")
	bindEnv(v, createCmd.Flags())

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a waiting team by its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(true); err != nil {
				return err
			}
			return run(cmd, cfg, in, out, func(m *lobby.Machine) error {
				if err := m.ChooseJoin(); err != nil {
					return err
				}
				return m.Join(cmd.Context(), cfg.code, cfg.name)
			})
		},
	}
	joinCmd.Flags().StringVarP(&cfg.name, "name", "n", "", "your display name (env: HUDDLE_NAME)")
	joinCmd.Flags().StringVarP(&cfg.code, "code", "c", "", "team code to join (env: HUDDLE_CODE)")
	bindEnv(v, joinCmd.Flags())

	cmd.AddCommand(createCmd, joinCmd)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("huddle {{.Version}}\n")

	return cmd
}

// bindEnv fills flags that were not given on the command line from HUDDLE_*
// environment variables.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newClient(cfg *Config) (*client.Client, error) {
	c, err := client.New(cfg.server)
	if err != nil {
		return nil, err
	}
	slog.Debug("using server", "url", cfg.server)
	return c, nil
}

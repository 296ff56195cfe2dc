package cmd

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	flagConfig  = "config"
	flagServer  = "server"
	flagKey     = "key"
	flagRetries = "retries"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the resolved configuration into subcommands.
type app struct {
	v *viper.Viper
}

func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "custodyctl",
		Short:         "Operate tokenbank registries, accounts and custody vaults",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd.Flags())
		},
	}

	root.PersistentFlags().String(flagConfig, "", "config file (default $HOME/.custodyctl.yaml)")
	root.PersistentFlags().String(flagServer, "http://localhost:8080", "tokenbank server URL")
	root.PersistentFlags().String(flagKey, defaultKeyPath(), "path to the hex encoded ed25519 signing key")
	root.PersistentFlags().Uint64(flagRetries, 3, "retries for transient server errors")

	root.AddCommand(
		a.keygenCommand(),
		a.registryCommand(),
		a.accountCommand(),
		a.mintCommand(),
		a.holdingCommand(),
	)
	return root
}

func (a *app) loadConfig(flags *pflag.FlagSet) error {
	a.v.SetEnvPrefix("CUSTODYCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(flags); err != nil {
		return err
	}

	if path, _ := flags.GetString(flagConfig); path != "" {
		a.v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".custodyctl")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// client builds an API client. The signing key is optional for reads.
func (a *app) client(needKey bool) (*Client, error) {
	var key ed25519.PrivateKey
	if needKey {
		k, err := LoadKey(a.v.GetString(flagKey))
		if err != nil {
			return nil, err
		}
		key = k
	}
	return NewClient(a.v.GetString(flagServer), key, a.v.GetUint64(flagRetries))
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".custodyctl.key"
	}
	return filepath.Join(home, ".custodyctl", "key")
}

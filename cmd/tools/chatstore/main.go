// Command chatstore inspects and repairs a local chat store file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/companion/backend/internal/config"
	"github.com/zhouzirui/companion/backend/internal/platform/logger"
	"github.com/zhouzirui/companion/backend/internal/storage"
)

func main() {
	if err := newRootCmd(viper.New(), os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs.
type app struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	a := &app{v: v, out: out}

	root := &cobra.Command{
		Use:           "chatstore",
		Short:         "Inspect, import and repair the local chat store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return nil
		},
	}
	root.SetOut(out)

	v.SetDefault("store-path", "./data/companion.db")
	v.SetDefault("log-level", "warn")

	root.PersistentFlags().String("store-path", "./data/companion.db", "path to the SQLite store file")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"store-path", "log-level"} {
		if err := v.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	v.SetEnvPrefix("chatstore")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(a.dumpCmd(), a.importCmd(), a.repairCmd())
	return root
}

func (a *app) logger() zerolog.Logger {
	return logger.New("chatstore", logger.Options{Level: a.v.GetString("log-level"), Pretty: true, Output: os.Stderr})
}

func (a *app) openStore() (storage.Store, error) {
	cfg := config.StoreConfig{Driver: config.DriverSQLite, Path: a.v.GetString("store-path")}
	s, err := cfg.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return s, nil
}

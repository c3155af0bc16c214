package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags override the environment.
func newRootCmd(v *viper.Viper) *cobra.Command {
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "keyshopctl",
		Short:         "Operator tool for the keyshop key inventory",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("database-url", "", "Postgres DSN (env DATABASE_URL)")
	flags.String("database-driver", "pgx", "pgx or postgres (env DATABASE_DRIVER)")
	flags.String("sqlite", "", "use a local SQLite file instead of Postgres")
	flags.String("log-level", "warn", "log level (env LOG_LEVEL)")
	_ = v.BindPFlag("DATABASE_URL", flags.Lookup("database-url"))
	_ = v.BindPFlag("DATABASE_DRIVER", flags.Lookup("database-driver"))
	_ = v.BindPFlag("SQLITE_PATH", flags.Lookup("sqlite"))
	_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))

	rootCmd.AddCommand(keysCmd(v))
	rootCmd.AddCommand(stockCmd(v))
	rootCmd.AddCommand(ordersCmd(v))
	rootCmd.AddCommand(ratingsCmd(v))
	return rootCmd
}

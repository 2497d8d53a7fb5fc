// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package cmd wires the ctl commands into a cobra CLI. Configuration
// merges command-line flags, WINNOW_* environment variables, and an
// optional TOML config file, in that priority order.
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/winnowdata/winnow/logger"
)

// NewRootCommand returns the winnow root command with all subcommands
// attached.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "winnow",
		Short: "winnow prepares quality-ranked training shards.",
		Long: `winnow downloads columnar corpus shards from an object store, strips
oversized columns, and reshards the corpus so the highest-quality
documents come first.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			return setAllConfig(v, cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	rc.PersistentFlags().Bool("verbose", false, "Enable verbose logging output.")

	rc.AddCommand(newFetchCommand(stdin, stdout, stderr))
	rc.AddCommand(newReshardCommand(stdin, stdout, stderr))
	rc.AddCommand(newInspectCommand(stdin, stdout, stderr))
	rc.AddCommand(newShardInfoCommand(stdin, stdout, stderr))
	rc.AddCommand(newIterationsCommand(stdin, stdout, stderr))

	rc.SetOut(stderr)
	return rc
}

// runLogger picks the log destination for one command invocation, based
// on the parsed --verbose flag.
func runLogger(c *cobra.Command, stderr io.Writer) logger.Logger {
	if verbose, _ := c.Root().PersistentFlags().GetBool("verbose"); verbose {
		return logger.NewVerboseLogger(stderr)
	}
	return logger.NewStandardLogger(stderr)
}

// setAllConfig takes a FlagSet to be the definition of all
// configuration options, as well as their defaults. It then reads from
// the command line, the environment, and a config file (if specified),
// and applies the configuration in that priority order. Environment
// variables are capitalized flag names with dashes replaced by
// underscores and a WINNOW_ prefix.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix("WINNOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			// special handling for stringSlice as v.GetString always
			// returns "" when the value came from a config file slice
			// rather than a comma separated flag or env var.
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("setting flag %s: %v", f.Name, err)
		}
	})
	return flagErr
}

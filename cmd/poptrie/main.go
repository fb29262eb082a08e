// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Command poptrie loads IPv4 route files into a forwarding table and
// runs lookups, consistency checks and benchmarks against it.
package main

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix          = "POPTRIE"
	defaultCfgFileName = ".poptrie"
)

var (
	buildVersion = "unknown"
	buildDate    = "unknown"
)

// options are the flags shared by all commands
type options struct {
	cfgFile  string
	logLevel string

	routes   string
	nodeBits uint
	leafBits uint
	fibSize  int
	workers  int
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "poptrie",
		Short:         "IPv4 forwarding table: lookup, verify and benchmark route files",
		Version:       fmt.Sprintf("%s (%s)", buildVersion, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", fmt.Sprintf("config file (default is $HOME/%s.yaml)", defaultCfgFileName))
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warning, error")
	pf.StringVarP(&opts.routes, "routes", "r", "", "route file, plain or gzip compressed")
	pf.UintVar(&opts.nodeBits, "table.node-bits", 20, "node arena size as power of two")
	pf.UintVar(&opts.leafBits, "table.leaf-bits", 20, "leaf arena size as power of two")
	pf.IntVar(&opts.fibSize, "table.fib-size", 4096, "number of next-hop slots")
	pf.IntVarP(&opts.workers, "workers", "w", 4, "parallel workers for verify and bench")

	rootCmd.AddCommand(
		newLookupCmd(opts),
		newVerifyCmd(opts),
		newBenchCmd(opts),
		newStatsCmd(opts),
		newGenCmd(),
		newServeCmd(opts),
	)

	return rootCmd
}

// initConfig reads the config file and POPTRIE_* environment variables,
// flags given on the command line take precedence.
func initConfig(cmd *cobra.Command, opts *options) error {
	v := viper.New()

	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(defaultCfgFileName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfgErr := v.ReadInConfig()

	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	initLogger(opts.logLevel)

	var notFound viper.ConfigFileNotFoundError
	switch {
	case cfgErr == nil:
		log.WithField("file", v.ConfigFileUsed()).Debug("config file loaded")
	case errors.As(cfgErr, &notFound) && opts.cfgFile == "":
		// the default config file is optional
	default:
		return errors.Wrap(cfgErr, "read config")
	}

	return nil
}

func initLogger(level string) {
	ll, err := log.ParseLevel(level)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableColors: false, FullTimestamp: true, PadLevelText: true, DisableQuote: true})
}

// bindFlags applies config and environment values to all flags not set
// on the command line.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}

		val := v.Get(f.Name)
		switch val.(type) {
		case bool, uint, string, int32, int16, int8, int, uint32, uint64, int64, float64, float32:
			bindErr = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
		default:
			var json = jsoniter.ConfigCompatibleWithStandardLibrary
			b, err := json.Marshal(&val)
			if err != nil {
				bindErr = errors.Wrapf(err, "flag %s", f.Name)
				return
			}
			bindErr = cmd.Flags().Set(f.Name, string(b))
		}
		if bindErr != nil {
			bindErr = errors.Wrapf(bindErr, "flag %s", f.Name)
		}
	})

	return bindErr
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// Package cli implements the workq command line.
package cli

import (
	"errors"
	"flag"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

const envPrefix = "WORKQ"

// NewRootCommand builds the command tree. Every flag can also be set from
// the config file or a WORKQ_ environment variable, e.g. WORKQ_SPIN_WINDOW.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "workq",
		Short: "Drive a low-latency work queue with a CPU-bound workload",
		Long: `workq renders Mandelbrot frames on a work queue, one item per row,
and reports throughput together with the queue's statistics. It is meant for
tuning worker counts and the spin window on a given machine.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./workq.yaml)")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newRunCommand(v))
	return cmd
}

func initConfig(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("workq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing default config file is fine, a broken or missing explicit one is not
		var notFound viper.ConfigFileNotFoundError
		if v.GetString("config") != "" || !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

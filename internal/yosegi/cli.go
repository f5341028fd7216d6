package yosegi

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagParseOnly bool
	flagFetchOnly bool
	flagKeepGoing bool
	flagThreads   int
	flagForced    []string
	flagFeatures  []string
	flagDebug     bool
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "yosegi <recipe.lua>",
	Short: "Dependency-driven, content-addressed package build orchestrator",
	Long: `yosegi builds a DAG of package recipes into per-package staging and
install tarballs, reusing cached results when the recipe inputs are
unchanged and fetching pre-built artifacts from a remote build cache
when one is configured.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDebug {
			Debug = true
		}
		Verbose = flagVerbose

		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("threads") {
			cfg.Threads = flagThreads
		}

		pwd, err := ensurePwd()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := NewWorld(cfg, pwd, NewBasicEvaluator(), NewExecutor(ctx))
		if err != nil {
			return err
		}

		for _, kv := range flagFeatures {
			if err := w.Features().SetKV(kv); err != nil {
				return err
			}
		}
		for _, name := range flagForced {
			w.AddForcedPackage(name)
		}
		if flagParseOnly {
			w.SetParseOnly()
		}
		if flagFetchOnly {
			w.SetFetchOnly()
		}
		if flagKeepGoing {
			w.SetKeepGoing()
		}

		return w.BasePackage(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yosegi %s (built %s)\n", version, buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", ConfigFile, "configuration file")
	rootCmd.Flags().BoolVar(&flagParseOnly, "parse-only", false, "stop after parsing all packages")
	rootCmd.Flags().BoolVar(&flagFetchOnly, "fetch-only", false, "fetch all sources, build nothing")
	rootCmd.Flags().BoolVarP(&flagKeepGoing, "keep-going", "k", false, "keep building unaffected packages after a failure")
	rootCmd.Flags().IntVarP(&flagThreads, "threads", "j", 0, "worker thread limit (0 = unlimited)")
	rootCmd.Flags().StringArrayVar(&flagForced, "force", nil, "only build the named package (repeatable); others are suppressed")
	rootCmd.Flags().StringArrayVarP(&flagFeatures, "feature", "f", nil, "set a feature as key=value (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

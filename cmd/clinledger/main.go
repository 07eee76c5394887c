package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/clinledger/clinledger/internal/config"
	"github.com/clinledger/clinledger/internal/logging"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clinledger",
	Short: "clinledger - clinical records on an embedded ledger",
	Long: `Stores clinical records through a ledger contract and benchmarks insert and
query latency against it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "clinledger.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

// loadConfig loads the config file and installs the configured logger.
func loadConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clinledger %s\n", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file and create the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		sample := config.Default()
		if err := os.MkdirAll(sample.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		f, err := os.Create(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		defer f.Close()

		if err := config.WriteSample(f, sample); err != nil {
			return err
		}

		fmt.Printf("Wrote config: %s\n", cfgFile)
		fmt.Printf("Data directory: %s\n", sample.Node.DataDir)
		fmt.Printf("Ledger path: %s\n", filepath.Join(sample.Node.DataDir, "ledger.db"))
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

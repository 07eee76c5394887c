package main

import (
	"context"
	"fmt"

	"github.com/clinledger/clinledger/internal/alert"
	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/records"
	"github.com/clinledger/clinledger/internal/verify"
	"github.com/spf13/cobra"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <function> [args...]",
	Short: "Submit one transaction, e.g. insertDitem 1 220000 ...",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		ctx := cmd.Context()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		insertTimeout, _, _ := cfg.Benchmark.Durations()
		results, err := a.client.Invoke(ctx, cfg.Ledger.Contract, cfg.Ledger.Version,
			[]client.Transaction{{Function: args[0], Args: args[1:]}}, insertTimeout)
		if err != nil {
			return err
		}
		printResults(results)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <function> [args...]",
	Short: "Evaluate a read-only function, e.g. queryPatientById 42",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd.Context(), client.Transaction{Function: args[0], Args: args[1:]})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <recordType> <id>",
	Short: "Print every committed version of a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd.Context(), client.Transaction{
			Function: records.FnGetHistoryForRecord,
			Args:     args,
		})
	},
}

func runQuery(ctx context.Context, tx client.Transaction) error {
	if err := loadConfig(); err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	_, queryTimeout, _ := cfg.Benchmark.Durations()
	results, err := a.client.Query(ctx, cfg.Ledger.Contract, cfg.Ledger.Version, tx, queryTimeout)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func printResults(results []*client.TxResult) {
	for _, res := range results {
		fmt.Printf("%s %s %v\n", res.ID, res.Status, res.Latency())
		if len(res.Payload) > 0 {
			fmt.Println(string(res.Payload))
		}
	}
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the transaction chain against history and state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		ctx := cmd.Context()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		alerts := alert.NewManager(cfg.Alert.Enabled, cfg.Alert.SlackWebhook, cfg.Node.ID)
		report, err := verify.NewChainVerifier(a.store, alerts, a.logger).Verify(ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			return err
		}

		contract, _ := a.store.GetMetadata("contract")
		version, _ := a.store.GetMetadata("version")
		fmt.Printf("OK: %d entries, %d keys, head %s (%s@%s)\n", report.Entries, report.Keys, report.HeadHash, contract, version)
		return nil
	},
}

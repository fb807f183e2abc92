package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"channel-backtest/services/engine"
	"channel-backtest/strategies"
)

var parityCmd = &cobra.Command{
	Use:   "parity",
	Short: "Run the built-in golden scenarios",
	Long: `Run the signal generator and simulator over the built-in scenarios
(a breakout that reverses, a monotone rise and a flat series) and compare
the trades with the expected ledger.`,
	RunE: runParity,
}

func init() {
	rootCmd.AddCommand(parityCmd)
}

func runParity(cmd *cobra.Command, _ []string) error {
	p := strategies.DefaultDonchianParams()
	p.ChannelLength = 10
	strat, err := strategies.NewDonchian(p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, tc := range engine.ParityCases() {
		failures := engine.RunParitySuite(strat, []engine.ParityTestCase{tc})
		if len(failures) == 0 {
			fmt.Fprintf(out, "PASS  %s (%d bars, %d trades)\n", tc.Name, len(tc.Bars), len(tc.Expected))
			continue
		}
		failed++
		for _, f := range failures {
			fmt.Fprintf(out, "FAIL  %s\n", f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d parity cases failed", failed)
	}
	return nil
}

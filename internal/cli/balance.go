package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biosmarket/settlement/internal/app/bootstrap"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
	"github.com/biosmarket/settlement/internal/transport/http/dto"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
}

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Print a recipient's earnings by status",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	// Read-only: no gateway is needed.
	service := revenuesvc.NewService(revenuesvc.Dependencies{
		Entries: storage.Revenue,
		Wallets: storage.Catalog,
		Logger:  log,
	}, revenuesvc.Config{})

	summary, err := service.Earnings(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recipient  %s\n", args[0])
	fmt.Fprintf(out, "available  %s\n", dto.NewAmount(summary.Available).Display)
	fmt.Fprintf(out, "settling   %s\n", dto.NewAmount(summary.Settling).Display)
	fmt.Fprintf(out, "settled    %s\n", dto.NewAmount(summary.Settled).Display)
	fmt.Fprintf(out, "failed     %s\n", dto.NewAmount(summary.Failed).Display)
	fmt.Fprintf(out, "entries    %d\n", summary.Entries)
	return nil
}

package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biosmarket/settlement/internal/app/bootstrap"
	"github.com/biosmarket/settlement/internal/jobs/reconcile"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("loop", false, "Keep running every reconcile.interval until interrupted")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve withdrawal batches stuck in settling",
	Long: `Looks up every settling batch older than reconcile.grace_period on the
escrow gateway. Batches whose transfer exists are settled with its tx ref,
batches the gateway has never seen are reverted to claimable.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	loop, _ := cmd.Flags().GetBool("loop")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	gateway, err := bootstrap.NewGateway(cfg.Gateway, log)
	if err != nil {
		return err
	}

	job := reconcile.New(storage.Revenue, gateway, cfg.Reconcile.GracePeriod, log.Named("reconcile"))
	if loop {
		return job.Loop(ctx, cfg.Reconcile.Interval)
	}

	report, err := job.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "settled=%d reverted=%d skipped=%d\n", report.Settled, report.Reverted, report.Skipped)
	return nil
}

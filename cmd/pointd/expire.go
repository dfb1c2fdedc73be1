package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/point-engine/point"
)

func init() {
	rootCmd.AddCommand(expireCmd)
	expireCmd.Flags().String("date", "", "Reference date (2006-01-02), default today")
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark batches that expired before the reference date",
	Long: `Run one expiration sweep and exit. Batches whose expiry date is
before the reference date become EXPIRED. Balances are not touched.
Running it twice for the same date changes nothing the second time.`,
	Args: cobra.NoArgs,
	RunE: runExpire,
}

func runExpire(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("date")
	ref, err := point.ParseDate(raw)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if ref.IsZero() {
		ref = a.service.Today()
	}
	n, err := a.service.ExpireOverdue(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d batches before %s\n", n, ref)
	return nil
}

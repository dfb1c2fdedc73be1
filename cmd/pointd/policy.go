package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policySetCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective policy values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		values := a.policy.Snapshot()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-26s %d\n", k, values[k])
		}
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Persist one policy value",
	Long: `Persist one policy value. Keys: MAX_EXPIRE_DAYS, DEF_EXPIRE_DAYS,
MAXIMUM_POINT, DEF_WALLET_MAXIMUM_POINT. Running servers pick the value up
on restart; use PUT /api/v1/policy to change a live server.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("value %q: %w", args[1], err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.policy.Update(args[0], value); err != nil {
			return err
		}
		if err := a.store.SavePolicySetting(ctx, args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %d\n", args[0], value)
		return nil
	},
}

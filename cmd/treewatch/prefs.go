package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treewatch/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write observer preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a preference, or every key when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := prefs.OpenSQLite(cfg.Prefs.Path)
		if err != nil {
			return err
		}
		defer ps.Close()
		ctx := cmd.Context()

		if len(args) == 0 {
			keys, err := ps.Keys(ctx)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		}
		v, ok, err := ps.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("prefs: %q is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := prefs.OpenSQLite(cfg.Prefs.Path)
		if err != nil {
			return err
		}
		defer ps.Close()
		return ps.Set(cmd.Context(), args[0], args[1])
	},
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}

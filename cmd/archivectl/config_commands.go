package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change archive thresholds",
	}

	configCmd.AddCommand(newConfigGetCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))

	return configCmd
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the effective archive thresholds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := b.configs.Load(cmd.Context())
			if err != nil {
				return err
			}
			values := cfg.Values()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				v, ok := values[args[0]]
				if !ok {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				fmt.Fprintln(out, v)
				return nil
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, values[k]})
			}
			fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows, nil))
			return nil
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store one threshold; the next job run picks it up",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			if b.editor == nil {
				return fmt.Errorf("thresholds come from ARCHIVE_CONFIG_FILE; edit that file instead")
			}
			if err := b.editor.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

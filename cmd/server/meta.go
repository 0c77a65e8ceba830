package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"entity-api/internal/auth"
)

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Print every entity name with its field descriptors as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		st, err := newStack(rt)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"entities": st.resolver.ListMeta(ctx, auth.Anonymous)})
	},
}

func init() {
	rootCmd.AddCommand(metaCmd)
}

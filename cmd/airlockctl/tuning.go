package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"colonysim.ai/internal/sim/tuning"
)

func newTuningCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "tuning",
		Short: "Print the effective tuning and its digest",
		Long: `Load a tuning file on top of the defaults, validate it and print the
result as YAML. The digest matches the one the server records per run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune := tuning.Defaults()
			if path != "" {
				var err error
				if tune, err = tuning.Load(path); err != nil {
					return err
				}
			}
			if err := tune.Validate(); err != nil {
				return err
			}
			b, err := json.Marshal(tune)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(b)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# digest %s\n", hex.EncodeToString(sum[:]))
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(tune); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "tuning.yaml to load (default: built-in defaults)")
	return cmd
}

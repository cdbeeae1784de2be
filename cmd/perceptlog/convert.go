package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"perceptlog/internal/config"
	"perceptlog/internal/logging"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <vector.toml>",
		Short: "Convert a Vector pipeline config into a perceptlog config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromVector(args[0])
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			target := out
			if target == "" {
				target = "stdout.yaml"
			}
			b, err := config.Marshal(cfg, target)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			logging.L().Info("config written", "from", args[0], "to", out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to this file (.yaml, .toml or .json) instead of stdout")
	return cmd
}

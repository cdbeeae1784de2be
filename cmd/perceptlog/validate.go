package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"perceptlog/internal/ocsf"
	"perceptlog/internal/output"
	"perceptlog/internal/script"
	"perceptlog/internal/transform"
	"perceptlog/source/logfile"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a script compiles, optionally against sample lines",
		Long: `Compiles the script and reports the first error. With --input, every
line of the sample file is transformed and the records are checked against
the output format; --print writes them to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			if cfg.Script == "" {
				return errors.New("script is required")
			}
			src, err := os.ReadFile(cfg.Script)
			if err != nil {
				return err
			}
			if err := transform.Validate(cfg.Script, string(src)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: ok\n", cfg.Script)
			if cfg.Input == "" {
				return nil
			}

			format, err := output.ParseFormat(cfg.Format)
			if err != nil {
				return err
			}
			eng, err := transform.LoadEngine(cfg.Script,
				script.Options{MaxSteps: cfg.MaxSteps},
				transform.Options{Workers: cfg.Workers})
			if err != nil {
				return err
			}
			lines, err := logfile.ReadAll(cmd.Context(), cfg.Input, cfg.MaxLineSize)
			if err != nil {
				return err
			}

			var events []*ocsf.Event
			failed := 0
			for _, r := range eng.TransformBatch(cmd.Context(), lines) {
				switch {
				case r.Skipped:
				case r.Err != nil:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "sample %d: %v\n", r.Line, r.Err)
				default:
					events = append(events, r.Event)
				}
			}
			if err := output.Validate(events, format); err != nil {
				return err
			}
			if show, _ := cmd.Flags().GetBool("print"); show {
				out, err := output.FormatAll(events, format, cfg.Pretty)
				if err != nil {
					return err
				}
				if format.IsArray() {
					out += "\n"
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d sample lines transformed\n", len(events), len(events)+failed)
			if failed > 0 && !cfg.SkipErrors {
				return fmt.Errorf("%d sample lines failed", failed)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	addScriptFlag(fs)
	fs.StringP("input", "i", "", "sample log file to run through the script")
	fs.StringP("format", "f", "ndjson", "output format the records must encode as")
	fs.BoolP("pretty", "p", false, "indent printed JSON")
	fs.Bool("print", false, "print the sample records")
	fs.Bool("skip-errors", false, "succeed even when some sample lines fail")
	return cmd
}

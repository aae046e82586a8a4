// File: cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/internal/observability"
)

func newValidateCmd() *cobra.Command {
	var (
		scriptID     string
		workflowPath string
		dataPath     string
	)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Runs a program headless and checks each step against its expected screen",
		Long: `Runs a generated program in validation mode and scores every captured step
with OCR. Pass --script to validate a stored program, or --workflow to
generate one first. The command fails when any step fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			params, err := loadParamsFile(dataPath)
			if err != nil {
				return err
			}

			components, err := componentsFactory(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			script, err := resolveScript(ctx, components, scriptID, workflowPath)
			if err != nil {
				return err
			}
			logger.Info("Validating script.", zap.String("script_id", script.ID), zap.String("path", script.FilePath))

			validated, err := components.Validator.ValidateScript(ctx, script.ID, params)
			if err != nil {
				return fmt.Errorf("validation could not be recorded: %w", err)
			}

			out := cmd.OutOrStdout()
			printScript(out, validated)
			printValidation(out, validated.Validation)
			if !validated.Validation.Success {
				return fmt.Errorf("validation failed: %d of %d steps failed",
					validated.Validation.FailedSteps, validated.Validation.TotalSteps)
			}
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&scriptID, "script", "s", "", "ID of a stored script.")
	validateCmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "Workflow file to generate from first.")
	validateCmd.Flags().StringVarP(&dataPath, "data", "d", "", "Test data file (YAML or JSON) passed as run(params).")
	validateCmd.MarkFlagsMutuallyExclusive("script", "workflow")
	validateCmd.MarkFlagsOneRequired("script", "workflow")
	return validateCmd
}

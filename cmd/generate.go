// File: cmd/generate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/observability"
)

func newGenerateCmd() *cobra.Command {
	var (
		workflowPath string
		outputDir    string
		noSynthesis  bool
	)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates an automation program from a workflow file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.SetGeneratorOutputDir(outputDir)
			}
			if noSynthesis {
				cfg.SetLLMProvider(config.ProviderNone)
			}

			wf, err := loadWorkflowFile(workflowPath)
			if err != nil {
				return err
			}

			components, err := componentsFactory(ctx, cfg, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			if wf, err = importWorkflow(ctx, components, wf); err != nil {
				return err
			}
			script, err := components.Generator.GenerateForWorkflow(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("script generation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%d steps)\n", bold("Workflow:"), wf.ID, len(wf.Steps))
			printScript(out, script)
			return nil
		},
	}

	generateCmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "Workflow file (YAML or JSON).")
	generateCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for generated programs. (Overrides config/env)")
	generateCmd.Flags().BoolVar(&noSynthesis, "no-synthesis", false, "Skip the code-synthesis service and use the built-in templates.")
	_ = generateCmd.MarkFlagRequired("workflow")
	return generateCmd
}

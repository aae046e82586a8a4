// File: cmd/executions.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

func newExecutionsCmd() *cobra.Command {
	var server string

	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspects and stops live executions on a running server",
	}
	executionsCmd.PersistentFlags().StringVar(&server, "server", "", "Base URL of the ScriptForge server. (Defaults to server.addr)")

	client := func(cmd *cobra.Command) (*apiClient, error) {
		if server != "" {
			return newAPIClient(server), nil
		}
		cfg, err := configFrom(cmd)
		if err != nil {
			return nil, err
		}
		return newAPIClient(serverURL(cfg.Server().Addr)), nil
	}

	var filter schemas.ExecutionFilter
	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			filter.Status = schemas.ExecutionStatus(status)
			page, err := c.listExecutions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range page.Executions {
				printExecution(out, e)
			}
			fmt.Fprintf(out, "%s\n", gray(fmt.Sprintf("page %d, %d of %d executions", page.Page, len(page.Executions), page.Total)))
			return nil
		},
	}
	listCmd.Flags().StringVar(&filter.ScriptID, "script-id", "", "Only executions of this script.")
	listCmd.Flags().StringVar(&status, "status", "", "Only executions in this status (running, completed, failed, stopped).")
	listCmd.Flags().IntVar(&filter.Page, "page", 1, "Page number, starting at 1.")
	listCmd.Flags().IntVar(&filter.Limit, "limit", schemas.DefaultPageLimit, "Executions per page.")

	getCmd := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Shows one execution and its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			exec, err := c.getExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printExecution(out, exec)
			for _, entry := range exec.Logs {
				printLog(out, entry)
			}
			return nil
		},
	}

	logsCmd := &cobra.Command{
		Use:   "logs <execution-id>",
		Short: "Prints an execution's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			logs, err := c.executionLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, entry := range logs {
				printLog(cmd.OutOrStdout(), entry)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <execution-id>",
		Short: "Stops a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			exec, err := c.stopExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printExecution(cmd.OutOrStdout(), exec)
			return nil
		},
	}

	executionsCmd.AddCommand(listCmd, getCmd, logsCmd, stopCmd)
	return executionsCmd
}

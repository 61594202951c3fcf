package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"safestreets/internal/app"
	"safestreets/pkg/store"
)

var (
	listLimit   int
	alertStatus string
	alertType   string
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect safety reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print safety reports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.App) (any, error) {
			return a.ListReports(cmd.Context(), store.ListOptions{Limit: listLimit})
		})
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Inspect emergency contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print emergency contacts in stored order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.App) (any, error) {
			return a.ListContacts(cmd.Context())
		})
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and close SOS alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print SOS alerts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.App) (any, error) {
			return a.ListAlerts(cmd.Context(), app.AlertQuery{
				Status:    alertStatus,
				AlertType: alertType,
				Limit:     listLimit,
			})
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) (any, error) {
			return a.ResolveAlert(cmd.Context(), args[0])
		})
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Print the user profile with defaults applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.App) (any, error) {
			return a.Profile(cmd.Context())
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <reports|contacts|alerts|user>",
	Short: "Drop one stored collection",
	Long: `Delete the stored value for one entity kind. The next read starts again
from the seed data, which is how corrupt stored data is recovered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := app.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app.App) (any, error) {
			if err := a.Reset(cmd.Context(), kind); err != nil {
				return nil, err
			}
			return map[string]any{"reset": string(kind)}, nil
		})
	},
}

func init() {
	reportsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of records (0 = all)")
	reportsCmd.AddCommand(reportsListCmd)

	contactsCmd.AddCommand(contactsListCmd)

	alertsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of records (0 = all)")
	alertsListCmd.Flags().StringVar(&alertStatus, "status", "", "only alerts with this status")
	alertsListCmd.Flags().StringVar(&alertType, "type", "", "only alerts of this alert_type")
	alertsCmd.AddCommand(alertsListCmd, alertsResolveCmd)
}

// withApp opens the runtime, runs fn and prints its result as JSON.
func withApp(cmd *cobra.Command, fn func(a *app.App) (any, error)) error {
	rt, err := openRuntime(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := fn(rt.app)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

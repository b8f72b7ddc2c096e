package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/factory"
)

func importCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import staff records from a JSON array",
		Long: `Reconciles a JSON array of staff records with the ledger in one transaction.
Records are matched by tax id: known ones are updated, new ones inserted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}
			raws, err := factory.NewRecordFactory().ParseJSON(data)
			if err != nil {
				return err
			}

			res, err := app.ledger.Import(cmd.Context(), raws)
			if err != nil {
				return err
			}
			app.logger.Info("import committed", zap.String("run_id", res.RunID))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Import %s: %d inserted, %d updated, %d skipped\n",
				res.RunID, res.Inserted, res.Updated, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  record %d (%s): %s\n", e.Index, e.TaxID, e.Message)
			}
			return nil
		},
	}
}

func auditCmd(app *App) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare stored balances with booked days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drifts, err := app.ledger.AuditBalances(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(drifts) == 0 {
				fmt.Fprintln(out, "All balances match their bookings")
				return nil
			}

			fmt.Fprintf(out, "%d balance(s) drifted:\n", len(drifts))
			for _, d := range drifts {
				fmt.Fprintf(out, "  #%d %s: stored %d, expected %d\n",
					d.Employee.ID, d.Employee.FullName, d.Employee.RemainingDays, d.Expected)
			}
			if !repair {
				return nil
			}

			repaired := 0
			for _, d := range drifts {
				res, err := app.ledger.ReconcileBalance(cmd.Context(), d.Employee.ID)
				if err != nil {
					return fmt.Errorf("repair #%d: %w", d.Employee.ID, err)
				}
				if res.Changed() {
					repaired++
				}
			}
			fmt.Fprintf(out, "Repaired %d balance(s)\n", repaired)
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rewrite drifted balances from the bookings")
	return cmd
}

func employeesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "employees",
		Short: "List employees with their latest booking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := app.ledger.EmployeeOverview(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found %d employees:\n\n", len(rows))
			for _, r := range rows {
				e := r.Employee
				fmt.Fprintf(out, "- #%d %s (%s) %d/%d days", e.ID, e.FullName, e.Role, e.RemainingDays, e.AnnualDays)
				if m := e.Manager(); m != "" {
					fmt.Fprintf(out, " [Manager: %s]", m)
				}
				if r.Booking != nil {
					fmt.Fprintf(out, " latest %s", r.Booking.Period())
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func historyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <year>",
		Short: "List bookings that start or end in a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("year must be a number: %w", err)
			}
			views, err := app.ledger.BookingsInYear(cmd.Context(), year)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d booking(s) in %d:\n", len(views), year)
			for _, v := range views {
				manager := "-"
				if v.ManagerName != nil {
					manager = *v.ManagerName
				}
				fmt.Fprintf(out, "  %s %3d days  %s (manager: %s)\n", v.Period(), v.TotalDays, v.FullName, manager)
			}
			return nil
		},
	}
}

func subordinatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "subordinates <manager>",
		Short: "Show everyone below a manager with their nearest booking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Names with spaces may arrive unquoted.
			manager := strings.Join(args, " ")
			subs, err := app.ledger.TransitiveSubordinates(cmd.Context(), manager)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(subs) == 0 {
				fmt.Fprintf(out, "%s has no subordinates\n", manager)
				return nil
			}
			fmt.Fprintf(out, "%s:\n", manager)
			for _, s := range subs {
				nearest := "no bookings"
				if s.Nearest != nil {
					nearest = s.Nearest.Period().String()
				}
				fmt.Fprintf(out, "%s%s (%s) %s\n", strings.Repeat("  ", s.Depth), s.Employee.FullName, s.Employee.Role, nearest)
			}
			return nil
		},
	}
}

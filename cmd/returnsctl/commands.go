package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
	"apotekita/backend/internal/service"
	"apotekita/backend/internal/store"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := opts.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okText("schema is up to date"))
			return nil
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	var skipUsers bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo invoices and one account per role",
		Long: `Loads the demo sales invoices and the admin, cashier and finance accounts.
Passwords come from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
SEED_FINANCE_PASSWORD. Existing rows are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(ctx context.Context, _ *service.Service, db database) error {
				var users []domain.UserAccount
				usedDefaults := false
				if !skipUsers {
					users, usedDefaults = store.DemoUsers(os.Getenv)
					for i := range users {
						hash, err := bcrypt.GenerateFromPassword([]byte(users[i].Password), bcrypt.DefaultCost)
						if err != nil {
							return err
						}
						users[i].Password = string(hash)
					}
				}
				result, err := store.Seed(ctx, db, time.Now(), users)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, okText(fmt.Sprintf("seeded %d invoices and %d users", result.Invoices, result.Users)))
				if usedDefaults && result.Users > 0 {
					fmt.Fprintln(out, warnText("default development passwords were used"))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipUsers, "no-users", false, "Only seed invoices")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var query domain.ReturnQuery
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List returns, newest first",
		Example: `  returnsctl list --q walk-in
  returnsctl list --from 2026-03-01 --to 2026-03-31 --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if query.Start, err = parseDateFlag(from, false); err != nil {
				return err
			}
			if query.End, err = parseDateFlag(to, true); err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ database) error {
				page, err := svc.QueryReturns(ctx, query)
				if err != nil {
					return err
				}
				printReturnPage(cmd.OutOrStdout(), page)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query.Keyword, "q", "", "Match return number, invoice id or customer")
	cmd.Flags().StringVar(&from, "from", "", "Earliest creation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Latest creation date, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&query.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&query.PageSize, "size", 0, "Page size (server default when 0)")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <return-id-or-number>",
		Short: "Show one return with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ database) error {
				record, err := svc.GetReturn(ctx, args[0])
				if err != nil {
					return err
				}
				printReturn(cmd.OutOrStdout(), record)
				return nil
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "status <return-id-or-number> <settled|voided>",
		Short: "Settle or void a return awaiting reconciliation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseReturnStatus(args[1])
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ database) error {
				record, err := svc.GetReturn(ctx, args[0])
				if err != nil {
					return err
				}
				updated, err := svc.TransitionReturn(ctx, record.ID, domain.StatusTransitionRequest{Status: status, Note: note})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okText(fmt.Sprintf("%s is now %s", updated.ReturnNumber, statusText(updated.Status))))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Reconciliation note")
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every return record",
		Long: fmt.Sprintf(`Deletes every return and its lines. Evidence files are kept.
The command only runs when --confirm is exactly %q.`, service.ClearConfirmationPhrase),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ database) error {
				deleted, err := svc.ClearAllReturns(ctx, confirm)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), warnText(fmt.Sprintf("deleted %d returns", deleted)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirmation phrase")
	return cmd
}

func newPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <invoice-id> [line-id=qty ...]",
		Short: "Compute the refund for a selection without recording anything",
		Long: `Prints the per-line subtotals and the rounded refund total.
Without line arguments every line is previewed at its remaining returnable
quantity.`,
		Example: `  returnsctl preview INV-100 INV-100-1=2`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wanted, err := parseSelections(args[1:])
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, db database) error {
				invoice, err := svc.FindInvoice(ctx, args[0])
				if err != nil {
					return err
				}
				returned, err := db.GetReturnedQtyByInvoice(ctx, invoice.ID)
				if err != nil {
					return err
				}
				rows, err := previewRows(invoice, returned, wanted)
				if err != nil {
					return err
				}
				printPreview(cmd.OutOrStdout(), invoice, rows)
				return nil
			})
		},
	}
}

type previewRow struct {
	line       domain.SourceLineItem
	qty        int
	returnable int
}

func previewRows(invoice domain.SourceInvoice, returned map[string]int, wanted map[string]int) ([]previewRow, error) {
	byID := make(map[string]domain.SourceLineItem, len(invoice.Lines))
	for _, line := range invoice.Lines {
		byID[line.ID] = line
	}
	for id := range wanted {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("line %s is not on invoice %s", id, invoice.ID)
		}
	}

	rows := make([]previewRow, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		returnable := line.Qty - returned[line.ID]
		if returnable < 0 {
			returnable = 0
		}
		qty := returnable
		if len(wanted) > 0 {
			var ok bool
			if qty, ok = wanted[line.ID]; !ok {
				continue
			}
			if qty > returnable {
				return nil, fmt.Errorf("line %s: %d requested, only %d returnable", line.ID, qty, returnable)
			}
		}
		if qty == 0 {
			continue
		}
		rows = append(rows, previewRow{line: line, qty: qty, returnable: returnable})
	}
	return rows, nil
}

func previewLines(rows []previewRow) []refund.Line {
	lines := make([]refund.Line, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, refund.Line{UnitPrice: row.line.UnitPrice, Qty: row.qty, TaxRatePercent: row.line.TaxRatePercent})
	}
	return lines
}

// parseSelections reads LINE=QTY arguments.
func parseSelections(args []string) (map[string]int, error) {
	wanted := make(map[string]int, len(args))
	for _, arg := range args {
		id, raw, ok := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("selection %q must look like LINE=QTY", arg)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || qty < 1 {
			return nil, fmt.Errorf("selection %q: quantity must be a positive integer", arg)
		}
		if _, dup := wanted[id]; dup {
			return nil, fmt.Errorf("line %s selected twice", id)
		}
		wanted[id] = qty
	}
	return wanted, nil
}

func parseDateFlag(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, use YYYY-MM-DD", raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

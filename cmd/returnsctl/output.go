package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
)

const timeFormat = "2006-01-02 15:04"

func okText(msg string) string {
	return color.New(color.FgHiGreen).Sprint("✓ ") + msg
}

func warnText(msg string) string {
	return color.New(color.FgYellow).Sprint("! ") + msg
}

func statusText(status domain.ReturnStatus) string {
	switch status {
	case domain.ReturnStatusSettled:
		return color.New(color.FgHiGreen).Sprint(status.String())
	case domain.ReturnStatusVoided:
		return color.New(color.FgRed).Sprint(status.String())
	default:
		return color.New(color.FgYellow).Sprint(status.String())
	}
}

func printReturnPage(out io.Writer, page domain.ReturnPage) {
	if page.TotalCount == 0 {
		fmt.Fprintln(out, "no returns found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tINVOICE\tCUSTOMER\tREFUND\tSTATUS\tCREATED")
	for _, record := range page.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.ReturnNumber, record.InvoiceID, record.CustomerLabel(),
			record.TotalRefund.StringFixed(refund.MinorUnits), statusText(record.Status),
			record.CreatedAt.Local().Format(timeFormat))
	}
	_ = w.Flush()
	if page.From == 0 {
		fmt.Fprintf(out, "page %d of %d, %d returns\n", page.Page, page.TotalPages, page.TotalCount)
		return
	}
	fmt.Fprintf(out, "%d-%d of %d (page %d of %d)\n", page.From, page.To, page.TotalCount, page.Page, page.TotalPages)
}

func printReturn(out io.Writer, record domain.ReturnRecord) {
	bold := color.New(color.Bold)
	fmt.Fprintf(out, "%s  %s\n", bold.Sprint(record.ReturnNumber), statusText(record.Status))
	fmt.Fprintf(out, "invoice:    %s (%s)\n", record.InvoiceID, record.CustomerLabel())
	fmt.Fprintf(out, "reason:     %s", record.Reason.Code)
	if record.Reason.Detail != "" {
		fmt.Fprintf(out, " (%s)", record.Reason.Detail)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "evidence:   %s\n", record.Evidence)
	fmt.Fprintf(out, "created:    %s by %s\n", record.CreatedAt.Local().Format(timeFormat), record.ProcessedBy)
	if record.StatusChangedAt != nil {
		fmt.Fprintf(out, "changed:    %s %s\n", record.StatusChangedAt.Local().Format(timeFormat), record.StatusNote)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tPRODUCT\tQTY\tPRICE\tTAX %\tSUBTOTAL")
	for _, line := range record.Lines {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			line.LineID, line.ProductName, line.Qty, line.UnitPrice.String(),
			line.TaxRatePercent.String(), line.Subtotal.StringFixed(4))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "refund:     %s\n", bold.Sprint(record.TotalRefund.StringFixed(refund.MinorUnits)))
}

func printPreview(out io.Writer, invoice domain.SourceInvoice, rows []previewRow) {
	fmt.Fprintf(out, "invoice %s (%s)\n", invoice.ID, domain.CustomerLabel(invoice.CustomerName))
	if len(rows) == 0 {
		fmt.Fprintln(out, warnText("nothing left to return on this invoice"))
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tPRODUCT\tQTY\tRETURNABLE\tSUBTOTAL")
	lines := previewLines(rows)
	for i, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			row.line.ID, row.line.ProductName, row.qty, row.returnable,
			refund.Subtotal(lines[i]).StringFixed(4))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "refund total: %s\n", color.New(color.Bold).Sprint(refund.Total(lines).StringFixed(refund.MinorUnits)))
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/service"
	"fundingwatch/internal/storage"
)

// Show prints recent rate changes followed by price alerts. Alerts are
// filtered by owner when one is given, otherwise all pending alerts are listed.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Limit <= 0 {
		opts.Limit = a.Config.Alerts.ListLimit
	}
	changes, err := store.ListRecentChanges(ctx, opts.Limit)
	if err != nil {
		return err
	}

	var alerts []domain.Alert
	if opts.Owner != "" {
		alerts, err = store.ListAlertsByOwner(ctx, opts.Owner, opts.Limit)
	} else {
		alerts, err = store.ListPendingAlerts(ctx)
	}
	if err != nil {
		return err
	}

	writeChanges(os.Stdout, changes)
	fmt.Fprintln(os.Stdout)
	writeAlerts(os.Stdout, alerts)
	return nil
}

func writeChanges(w io.Writer, changes []storage.ChangeRecord) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "no rate changes found")
		return
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrevious\tCurrent\tChange\tDirection\tNext funding")
	for _, c := range changes {
		next := "-"
		if c.NextEventTime != nil {
			next = c.NextEventTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Symbol,
			service.Percent(c.PreviousRate, 4),
			service.Percent(c.CurrentRate, 4),
			service.Percent(c.Delta, 4),
			c.Direction,
			next,
		)
	}
	writer.Flush()
}

func writeAlerts(w io.Writer, alerts []domain.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no price alerts found")
		return
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tSymbol\tDirection\tTarget\tFired\tFired price")
	for _, al := range alerts {
		fired, price := "no", "-"
		if al.Fired {
			fired = "yes"
			if al.FiredAt != nil {
				fired = al.FiredAt.UTC().Format(time.RFC3339)
			}
			price = al.FiredPrice.String()
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			al.ID,
			sanitizeInline(al.OwnerID),
			al.Symbol,
			al.Direction,
			al.TargetPrice.String(),
			fired,
			price,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

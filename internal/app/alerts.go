package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/service"
)

// AddAlert validates and stores a price alert through the same path the bot uses.
func (a *App) AddAlert(ctx context.Context, opts AlertOptions, out io.Writer) error {
	target, err := decimal.NewFromString(strings.TrimSpace(opts.Target))
	if err != nil {
		return fmt.Errorf("%w: target price %q is not a number", domain.ErrInvalidInput, opts.Target)
	}
	direction, err := domain.ParseDirection(opts.Direction)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := service.New(a.Config, nil, nil, nil, store, nil, nil, a.Logger)
	if err != nil {
		return err
	}
	alert, err := svc.CreateAlert(ctx, opts.Owner, opts.Symbol, target, direction)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "created alert #%d: %s %s %s\n", alert.ID, alert.Symbol, alert.Direction, alert.TargetPrice)
	return err
}

// ListAlerts prints the owner's most recent alerts.
func (a *App) ListAlerts(ctx context.Context, owner string, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := service.New(a.Config, nil, nil, nil, store, nil, nil, a.Logger)
	if err != nil {
		return err
	}
	alerts, err := svc.ListAlerts(ctx, owner)
	if err != nil {
		return err
	}
	writeAlerts(out, alerts)
	return nil
}

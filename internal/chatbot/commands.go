package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/monitor"
	"fundingwatch/internal/service"
)

// Operator is the part of the service driven by chat commands.
type Operator interface {
	Status(ctx context.Context) service.Status
	Threshold() decimal.Decimal
	SetThreshold(value decimal.Decimal) error
	CheckNow(ctx context.Context) ([]monitor.ChangeEvent, error)
	Restart(ctx context.Context) (int, error)
	CreateAlert(ctx context.Context, ownerID, symbol string, target decimal.Decimal, direction domain.Direction) (domain.Alert, error)
	ListAlerts(ctx context.Context, ownerID string) ([]domain.Alert, error)
}

const helpText = `👋 Funding rate monitor

/status - tracked symbols, threshold, next funding, connection
/threshold [percent] - show or set the notification threshold
/check - compare every symbol against its last rate now
/restart - rebuild the rate table from a fresh fetch
/alert <SYMBOL> <above|below> <price> - add a price alert
/alerts - list your price alerts`

var hundred = decimal.NewFromInt(100)

// Commands parses chat messages and runs them against an Operator.
type Commands struct {
	op         Operator
	allowed    map[string]struct{}
	openAlerts bool
	logger     zerolog.Logger
}

// NewCommands builds a command set. An empty allowed list lets every chat
// run operator commands; openAlerts lets every chat manage its own alerts.
func NewCommands(op Operator, allowed []string, openAlerts bool, logger zerolog.Logger) *Commands {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &Commands{
		op:         op,
		allowed:    set,
		openAlerts: openAlerts,
		logger:     logger.With().Str("component", "chat_commands").Logger(),
	}
}

// Handle runs the command in text on behalf of chatID. It reports false when
// text is not a command.
func (c *Commands) Handle(ctx context.Context, chatID, text string) (string, bool) {
	name, args, ok := parse(text)
	if !ok {
		return "", false
	}

	logger := c.logger.With().Str("chat_id", chatID).Str("command", name).Logger()
	logger.Debug().Strs("args", args).Msg("command received")

	switch name {
	case "start", "help":
		return helpText, true
	case "alert", "alerts":
		if !c.openAlerts && !c.authorized(chatID) {
			return c.denied(logger), true
		}
	default:
		if !c.authorized(chatID) {
			return c.denied(logger), true
		}
	}

	switch name {
	case "status":
		return service.FormatStatus(c.op.Status(ctx)), true
	case "threshold":
		return c.threshold(args), true
	case "check":
		return c.check(ctx, logger), true
	case "restart":
		return c.restart(ctx, logger), true
	case "alert":
		return c.addAlert(ctx, chatID, args), true
	case "alerts":
		return c.listAlerts(ctx, chatID, logger), true
	default:
		return "❌ Unknown command. Send /start for help.", true
	}
}

func (c *Commands) authorized(chatID string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[chatID]
	return ok
}

func (c *Commands) denied(logger zerolog.Logger) string {
	logger.Warn().Msg("command from unauthorised chat ignored")
	return "❌ This chat is not allowed to run that command."
}

func (c *Commands) threshold(args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Current notification threshold: %s\nTo change: /threshold <percent>\nExample: /threshold 0.05 (for 0.05%%)",
			service.Percent(c.op.Threshold(), 4))
	}

	pct, err := decimal.NewFromString(strings.TrimSuffix(args[0], "%"))
	if err != nil {
		return "❌ Please enter a valid number."
	}
	value := pct.Div(hundred)
	if err := c.op.SetThreshold(value); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return "❌ The threshold must be greater than zero."
		}
		return fmt.Sprintf("❌ %v", err)
	}
	return fmt.Sprintf("✅ Notification threshold set to %s.", service.Percent(value, 4))
}

func (c *Commands) check(ctx context.Context, logger zerolog.Logger) string {
	events, err := c.op.CheckNow(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("manual check failed")
		return fmt.Sprintf("❌ Error occurred during check: %v", err)
	}
	return service.FormatCheck(events)
}

func (c *Commands) restart(ctx context.Context, logger zerolog.Logger) string {
	tracked, err := c.op.Restart(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("restart failed")
		return fmt.Sprintf("❌ Error during restart: %v", err)
	}
	return fmt.Sprintf("✅ Monitor successfully restarted. %d symbols are being tracked.", tracked)
}

func (c *Commands) addAlert(ctx context.Context, chatID string, args []string) string {
	const usage = "❌ Usage: /alert <SYMBOL> <above|below> <price>"
	if len(args) != 3 {
		return usage
	}
	direction, err := domain.ParseDirection(args[1])
	if err != nil {
		return usage
	}
	target, err := decimal.NewFromString(args[2])
	if err != nil {
		return "❌ Please enter a valid price."
	}

	alert, err := c.op.CreateAlert(ctx, chatID, args[0], target, direction)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Sprintf("❌ %v", err)
		}
		return "❌ Could not save the alert, please try again later."
	}
	return fmt.Sprintf("✅ Alert #%d set: %s %s %s", alert.ID, alert.Symbol, alert.Direction, alert.TargetPrice.String())
}

func (c *Commands) listAlerts(ctx context.Context, chatID string, logger zerolog.Logger) string {
	alerts, err := c.op.ListAlerts(ctx, chatID)
	if err != nil {
		logger.Error().Err(err).Msg("list alerts failed")
		return "❌ Could not load your alerts, please try again later."
	}
	if len(alerts) == 0 {
		return "You have no price alerts."
	}

	var b strings.Builder
	b.WriteString("🔔 Your price alerts")
	for _, a := range alerts {
		fmt.Fprintf(&b, "\n#%d %s %s %s", a.ID, a.Symbol, a.Direction, a.TargetPrice.String())
		if a.Fired {
			fmt.Fprintf(&b, " (fired at %s)", a.FiredPrice.String())
		} else {
			b.WriteString(" (pending)")
		}
	}
	return b.String()
}

// parse splits "/cmd@bot a b" into its lower-case name and arguments.
func parse(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

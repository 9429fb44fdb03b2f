package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/sim"
)

// Notifier pushes financially significant ledger events to Telegram.
// Only liquidations are sent; routine fills would be noise.
type Notifier struct {
	telegram *Telegram
	log      *zap.Logger
}

func NewNotifier(telegram *Telegram, log *zap.Logger) *Notifier {
	return &Notifier{telegram: telegram, log: log}
}

func (n *Notifier) HandleEvents(ctx context.Context, events []sim.Event) {
	for _, ev := range events {
		if ev.Kind != sim.EventLiquidation {
			continue
		}
		msg := ev.Message
		if msg == "" {
			msg = fmt.Sprintf("%s position liquidated (pnl %.2f USDT)", ev.Symbol, ev.Pnl)
		}
		if err := n.telegram.Send(ctx, msg); err != nil {
			n.log.Warn("liquidation alert failed", zap.String("symbol", ev.Symbol), zap.Error(err))
		}
	}
}

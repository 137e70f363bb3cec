package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fed-liquidity/internal/alerting"
	"fed-liquidity/internal/liquidity"
)

// SimulateAlert 通过给定的前后两期净流动性模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, previous, latest decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	today := a.today()
	prevObs := liquidity.Observation{Date: today.AddDays(-7), TotalAssets: previous}
	lastObs := liquidity.Observation{Date: today, TotalAssets: latest}

	threshold := decimal.NewFromFloat(a.Config.Alerting.ThresholdPct)
	note, ok := alerting.Evaluate(lastObs, prevObs, threshold)
	if !ok {
		return fmt.Errorf("变化未达到阈值 %s%%，不会触发告警", threshold)
	}
	note.Channels = a.Config.Alerting.Channels
	note.AdditionalMsg = "simulated"

	return notifier.Notify(ctx, note)
}

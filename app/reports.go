package app

import (
	"context"
	"fmt"
	"time"

	"github.com/comerc/tgrelay/store"
	"github.com/enescakir/emoji"
	"github.com/rs/zerolog/log"
)

// RunReports sends the daily reports at 00:00 UTC until ctx is done.
func (a *App) RunReports(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			utc := t.UTC()
			if utc.Hour() == 0 && utc.Minute() == 0 {
				a.SendReports(ctx, utc)
			}
		}
	}
}

// SendReports sends the counters of the day before t to every chat in
// reports.for, once per day.
func (a *App) SendReports(ctx context.Context, t time.Time) {
	cfg := a.Config()
	if a.stats == nil || len(cfg.Reports.For) == 0 {
		return
	}
	date := t.UTC().Add(-1 * time.Minute).Format(store.DateLayout)

	a.reportsMu.Lock()
	defer a.reportsMu.Unlock()
	if a.reportedOn == date {
		return
	}

	client := a.newClient()
	if err := client.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("SendReports()")
		return
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Error().Err(err).Msg("Disconnect()")
		}
	}()

	sent := 0
	for _, toChatId := range cfg.Reports.For {
		counters, err := a.stats.Counters(toChatId, date)
		if err != nil {
			log.Error().Err(err).Int64("to", toChatId).Msg("Counters()")
			continue
		}
		text := ReportText(cfg.Reports.Template, counters)
		if _, err := client.SendText(ctx, toChatId, text); err != nil {
			log.Error().Err(err).Int64("to", toChatId).Msg("SendText()")
			continue
		}
		log.Info().Int64("to", toChatId).Str("date", date).Msg("Report sent")
		sent++
	}
	// retried on the next call when nothing went out
	if sent > 0 {
		a.reportedOn = date
	}
}

// ReportText fills template with the forwarded and viewed counters and
// expands emoji aliases like :bar_chart:.
func ReportText(template string, counters store.Counters) string {
	return emoji.Parse(fmt.Sprintf(template, counters.Forwarded, counters.Viewed))
}

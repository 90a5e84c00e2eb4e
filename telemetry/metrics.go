// Package telemetry exposes Prometheus counters for the forwarding task.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	MessagesViewed    prometheus.Counter
	MessagesForwarded prometheus.Counter
	SendErrors        prometheus.Counter
	FetchErrors       prometheus.Counter
	ForwardingActive  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesViewed = promauto.NewCounter(prometheus.CounterOpts{Name: "tgrelay_messages_viewed_total", Help: "Messages fetched from source chats"})
		MessagesForwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "tgrelay_messages_forwarded_total", Help: "Messages sent to destination chats"})
		SendErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "tgrelay_send_errors_total", Help: "Failed sends to destination chats"})
		FetchErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "tgrelay_fetch_errors_total", Help: "Failed fetches from source chats"})
		ForwardingActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "tgrelay_forwarding_active", Help: "Forwarding task running=1 stopped=0"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func IncViewed()     { inc(MessagesViewed) }
func IncForwarded()  { inc(MessagesForwarded) }
func IncSendError()  { inc(SendErrors) }
func IncFetchError() { inc(FetchErrors) }

// SetForwarding sets the gauge to 1 if running else 0.
func SetForwarding(running bool) {
	if ForwardingActive == nil {
		return
	}
	if running {
		ForwardingActive.Set(1)
	} else {
		ForwardingActive.Set(0)
	}
}

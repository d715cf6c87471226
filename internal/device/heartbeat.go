package device

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"echokit/internal/battery"
	appLog "echokit/internal/log"
	"echokit/internal/system"
)

// Heartbeat periodically logs that the device is alive, with heap usage
// and, when a battery reader is set, the charge state.
type Heartbeat struct {
	Spec    string
	Battery battery.Reader

	cron *cron.Cron
}

// Start schedules the heartbeat. An invalid spec is an error.
func (h *Heartbeat) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(h.Spec, h.beat); err != nil {
		return fmt.Errorf("device: heartbeat spec %q: %w", h.Spec, err)
	}
	c.Start()
	h.cron = c
	return nil
}

// Stop unschedules the heartbeat and waits for a running beat.
func (h *Heartbeat) Stop() {
	if h.cron == nil {
		return
	}
	<-h.cron.Stop().Done()
	h.cron = nil
}

func (h *Heartbeat) beat() {
	appLog.Info("device is running")
	system.LogMemStats("heartbeat")
	if h.Battery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.Battery.Read(ctx)
	if err != nil {
		appLog.Warn("battery read failed", "err", err.Error())
		return
	}
	appLog.Info("battery", "percent", st.Percent, "voltage_mv", st.VoltageMv)
}

package connectivity

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
)

// Prober periodically checks the backend and feeds the result into a Monitor.
type Prober struct {
	monitor  *Monitor
	pinger   remote.Pinger
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
}

func NewProber(monitor *Monitor, pinger remote.Pinger, schedule string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (p *Prober) Start() error {
	logger.Log.Info("Starting connectivity prober", zap.String("schedule", p.schedule))

	id, err := p.cron.AddFunc(p.schedule, func() {
		p.Probe(context.Background())
	})
	if err != nil {
		return err
	}

	p.entryID = id
	p.cron.Start()
	return nil
}

func (p *Prober) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
		p.cron.Remove(p.entryID)
	}
	logger.Log.Info("Stopped connectivity prober", zap.Int("entry", int(p.entryID)))
}

// Probe pings the backend once and updates the monitor. It returns the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		logger.Log.Debug("Connectivity probe failed", zap.Error(err))
	}
	online := err == nil
	p.monitor.Set(online)
	return online
}

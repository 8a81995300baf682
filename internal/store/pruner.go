package store

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// Pruner deletes history rows older than the retention window on a
// cron schedule.
type Pruner struct {
	history   Historian
	retention time.Duration
	schedule  string
	log       logr.Logger
	cron      *cron.Cron
}

// NewPruner builds a pruner that keeps retention worth of history and
// runs on the given cron schedule.
func NewPruner(history Historian, retention time.Duration, schedule string, log logr.Logger) *Pruner {
	return &Pruner{
		history:   history,
		retention: retention,
		schedule:  schedule,
		log:       log,
		cron:      cron.New(),
	}
}

// Start registers the prune job and starts the scheduler. The
// scheduler stops when ctx is done.
func (p *Pruner) Start(ctx context.Context) error {
	_, err := p.cron.AddFunc(p.schedule, func() {
		p.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	p.cron.Start()

	go func() {
		<-ctx.Done()
		p.cron.Stop()
	}()
	return nil
}

// RunOnce executes a single prune pass.
func (p *Pruner) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)
	removed, err := p.history.Prune(ctx, cutoff)
	if err != nil {
		p.log.Error(err, "history prune failed")
		return
	}
	if removed > 0 {
		p.log.Info("pruned history", "removed", removed, "cutoff", cutoff)
	}
}

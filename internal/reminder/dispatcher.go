package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// Notifier delivers a due reminder to its conversation thread.
type Notifier interface {
	Notify(ctx context.Context, r *models.Reminder) error
}

// Dispatcher polls for due reminders on a cron schedule and delivers them.
// A reminder is marked sent only after delivery succeeds; marking is
// idempotent, so an overlap between two polling runs cannot double-count.
type Dispatcher struct {
	scheduler *Scheduler
	notifier  Notifier
	interval  time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewDispatcher(scheduler *Scheduler, notifier Notifier, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		scheduler: scheduler,
		notifier:  notifier,
		interval:  interval,
		cron:      cron.New(),
		logger:    logger,
	}
}

func (d *Dispatcher) Start() error {
	spec := fmt.Sprintf("@every %s", d.interval)
	if _, err := d.cron.AddFunc(spec, func() {
		d.DeliverDue(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling reminder poll: %w", err)
	}
	d.cron.Start()
	d.logger.Info("Reminder dispatcher started", zap.Duration("interval", d.interval))
	return nil
}

func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
}

// DeliverDue sends every pending reminder due by now.
func (d *Dispatcher) DeliverDue(ctx context.Context) {
	due, err := d.scheduler.DueBefore(ctx, time.Now())
	if err != nil {
		d.logger.Error("Failed to query due reminders", zap.Error(err))
		return
	}

	for _, r := range due {
		if err := d.notifier.Notify(ctx, r); err != nil {
			d.logger.Error("Failed to deliver reminder",
				zap.Error(err),
				zap.String("reminder_id", r.ID))
			continue
		}
		if err := d.scheduler.MarkSent(ctx, r.ID); err != nil {
			d.logger.Error("Failed to mark reminder sent",
				zap.Error(err),
				zap.String("reminder_id", r.ID))
		}
	}
}

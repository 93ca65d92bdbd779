package bind

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// Sweeper runs SweepExpired on a cron schedule.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper registers the sweep job; call Start to begin running it.
func NewSweeper(log *slog.Logger, service *Service, schedule string) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sw := &Sweeper{
		service: service,
		cron:    cron.New(cron.WithParser(parser)),
		logger:  log.With(slog.String("service", "bind_sweeper")),
	}
	if _, err := sw.cron.AddFunc(strings.TrimSpace(schedule), sw.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := sw.service.SweepExpired(ctx); err != nil {
		sw.logger.Error("sweep failed", slog.Any("error", err))
	}
}

// Start begins the schedule.
func (sw *Sweeper) Start() { sw.cron.Start() }

// Stop halts the schedule and waits for a running sweep.
func (sw *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-sw.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package janitor periodically removes spent and expired magic-link tokens.
package janitor

import (
	"context"
	"fmt"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
	"github.com/robfig/cron"
)

const DefaultSchedule = "@hourly"

type Janitor struct {
	tokens repository.TokenRepository
	cron   *cron.Cron
}

func New(tokens repository.TokenRepository, schedule string) (*Janitor, error) {
	j := &Janitor{tokens: tokens, cron: cron.New()}
	if err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule token janitor %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep deletes expired tokens once and returns how many went.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	n, err := j.tokens.DeleteExpired(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Token cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		logger.InfoContext(ctx, "Expired magic link tokens removed", "count", n)
	}
	return n
}

// Run schedules sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	j.cron.Stop()
	return nil
}

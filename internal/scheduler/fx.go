package scheduler

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/leaseworks/leaseworks/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// ProvideConfig reads scheduler tuning from the environment. Anything
// unset falls back to defaults in withDefaults.
func ProvideConfig() Config {
	cfg := Config{}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_RUN_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RunInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_GENERATE_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateBatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_SWEEP_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepBatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); v != "" {
		for _, job := range strings.Split(v, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

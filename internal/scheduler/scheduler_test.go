package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	invoicerepository "github.com/leaseworks/leaseworks/internal/invoice/repository"
	invoiceservice "github.com/leaseworks/leaseworks/internal/invoice/service"
	obsmetrics "github.com/leaseworks/leaseworks/internal/observability/metrics"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
	recurringservice "github.com/leaseworks/leaseworks/internal/recurring/service"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	sched        *Scheduler
	invoiceSvc   invoicedomain.Service
	recurringSvc recurringdomain.Service
	clock        *clock.FakeClock
	db           *gorm.DB
	registry     *prometheus.Registry
}

// swapPrometheusRegistry gives each test a private registry so the metrics
// singleton can be rebuilt without duplicate-registration panics.
func swapPrometheusRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	})
	return registry
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	registry := swapPrometheusRegistry(t)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoicePayment{},
		&recurringdomain.RecurringInvoice{},
		&recurringdomain.RecurringInvoiceSplit{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC))

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fc,
		Repo:       invoicerepository.Provide(),
		BillingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
	recurringSvc := recurringservice.NewService(recurringservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})

	sched, err := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		InvoiceSvc:   invoiceSvc,
		RecurringSvc: recurringSvc,
		GenID:        node,
		Clock:        fc,
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &fixture{
		sched:        sched,
		invoiceSvc:   invoiceSvc,
		recurringSvc: recurringSvc,
		clock:        fc,
		db:           db,
		registry:     registry,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Params{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunOnce_EndToEnd(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	// A schedule already due for generation.
	schedule, err := f.recurringSvc.Create(ctx, recurringdomain.CreateScheduleRequest{
		PropertyID:  snowflake.ID(42),
		Type:        invoicedomain.InvoiceTypeRent,
		TotalAmount: 100000,
		Frequency:   recurringdomain.FrequencyMonthly,
		NextRunDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Splits: []invoicedomain.SplitInput{
			{UserID: snowflake.ID(100), AmountOwed: 100000},
		},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	// An unpaid invoice already past due.
	overdue, err := f.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		PropertyID:  snowflake.ID(42),
		Type:        invoicedomain.InvoiceTypeWater,
		TotalAmount: 5000,
		DueDate:     time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		Splits: []invoicedomain.SplitInput{
			{UserID: snowflake.ID(100), AmountOwed: 5000},
		},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var generated int64
	f.db.Model(&invoicedomain.Invoice{}).Where("recurring_invoice_id = ?", schedule.ID).Count(&generated)
	if generated != 1 {
		t.Fatalf("expected 1 generated invoice, got %d", generated)
	}

	got, err := f.invoiceSvc.GetByID(ctx, overdue.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if got.Status != invoicedomain.InvoiceStatusOverdue {
		t.Fatalf("sweep missed overdue invoice: %s", got.Status)
	}
}

func TestRunOnce_RespectsEnabledJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledJobs = []string{"overdue_sweep"}
	f := newFixture(t, cfg)
	ctx := context.Background()

	schedule, err := f.recurringSvc.Create(ctx, recurringdomain.CreateScheduleRequest{
		PropertyID:  snowflake.ID(42),
		Type:        invoicedomain.InvoiceTypeRent,
		TotalAmount: 100000,
		Frequency:   recurringdomain.FrequencyMonthly,
		NextRunDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Splits: []invoicedomain.SplitInput{
			{UserID: snowflake.ID(100), AmountOwed: 100000},
		},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var generated int64
	f.db.Model(&invoicedomain.Invoice{}).Where("recurring_invoice_id = ?", schedule.ID).Count(&generated)
	if generated != 0 {
		t.Fatalf("disabled generator produced %d invoices", generated)
	}
}

func TestIsJobEnabled(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	if !f.sched.isJobEnabled("generate_invoices") || !f.sched.isJobEnabled("overdue_sweep") {
		t.Fatal("empty EnabledJobs must enable everything")
	}

	f.sched.cfg.EnabledJobs = []string{"Generate_Invoices"}
	if !f.sched.isJobEnabled("generate_invoices") {
		t.Fatal("job name match must be case-insensitive")
	}
	if f.sched.isJobEnabled("overdue_sweep") {
		t.Fatal("unlisted job must stay disabled")
	}
}

func TestRunJob_TimeoutIsSoft(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	err := f.sched.runJob(ctx, "generate_invoices", 10, time.Second, func(ctx context.Context) error {
		return context.DeadlineExceeded
	})
	if err != nil {
		t.Fatalf("deadline must be swallowed, got %v", err)
	}
	labels := map[string]string{
		"service": "leaseworks",
		"env":     "unknown",
		"job":     "generate_invoices",
	}
	if got := getCounterValue(t, f.registry, "leaseworks_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	err = f.sched.runJob(ctx, "generate_invoices", 10, time.Second, func(ctx context.Context) error {
		return context.Canceled
	})
	if err != nil {
		t.Fatalf("cancellation must be swallowed, got %v", err)
	}

	boom := errors.New("boom")
	err = f.sched.runJob(ctx, "generate_invoices", 10, time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("real failures must propagate, got %v", err)
	}
}

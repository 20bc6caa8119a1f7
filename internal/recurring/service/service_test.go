package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/leaseworks/leaseworks/internal/clock"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	obsmetrics "github.com/leaseworks/leaseworks/internal/observability/metrics"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// resetSchedulerMetrics points the metrics singleton at a throwaway registry
// so rebuilding it per test cannot trip duplicate registration.
func resetSchedulerMetrics(t *testing.T) {
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
}

func newTestService(t *testing.T, start time.Time) (recurringdomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	resetSchedulerMetrics(t)
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
	fc := clock.NewFakeClock(start)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})
	return svc, fc, db
}

func scheduleRequest(nextRun time.Time) recurringdomain.CreateScheduleRequest {
	return recurringdomain.CreateScheduleRequest{
		PropertyID:    snowflake.ID(42),
		Type:          invoicedomain.InvoiceTypeRent,
		Description:   "Monthly rent",
		TotalAmount:   150000,
		Frequency:     recurringdomain.FrequencyMonthly,
		NextRunDate:   nextRun,
		DueDaysOffset: 7,
		Splits: []invoicedomain.SplitInput{
			{UserID: snowflake.ID(100), AmountOwed: 90000},
			{UserID: snowflake.ID(101), AmountOwed: 60000},
		},
	}
}

func TestCreate_Validation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, start)
	ctx := context.Background()

	req := scheduleRequest(start)
	req.Frequency = "DAILY"
	if _, err := svc.Create(ctx, req); !errors.Is(err, recurringdomain.ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}

	req = scheduleRequest(start)
	req.Splits[0].AmountOwed = 1
	if _, err := svc.Create(ctx, req); !errors.Is(err, invoicedomain.ErrSplitSumMismatch) {
		t.Fatalf("expected ErrSplitSumMismatch, got %v", err)
	}

	req = scheduleRequest(start)
	req.Type = "PARKING"
	if _, err := svc.Create(ctx, req); !errors.Is(err, invoicedomain.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestCreate_And_GetByID(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, start)
	ctx := context.Background()

	created, err := svc.Create(ctx, scheduleRequest(start.AddDate(0, 1, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Active {
		t.Fatal("new schedule must start active")
	}

	got, err := svc.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(got.Splits))
	}
	if !got.NextRunDate.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("cursor mismatch: %s", got.NextRunDate)
	}
}

func TestUpdate_SplitInvariant(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, start)
	ctx := context.Background()

	created, err := svc.Create(ctx, scheduleRequest(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// New total with stale splits breaks the sum invariant.
	newTotal := int64(200000)
	_, err = svc.Update(ctx, recurringdomain.UpdateScheduleRequest{
		ID:          created.ID,
		TotalAmount: &newTotal,
	})
	if !errors.Is(err, invoicedomain.ErrSplitSumMismatch) {
		t.Fatalf("expected ErrSplitSumMismatch, got %v", err)
	}

	// New total with matching replacement splits is accepted.
	updated, err := svc.Update(ctx, recurringdomain.UpdateScheduleRequest{
		ID:          created.ID,
		TotalAmount: &newTotal,
		Splits: []invoicedomain.SplitInput{
			{UserID: snowflake.ID(100), AmountOwed: 120000},
			{UserID: snowflake.ID(101), AmountOwed: 80000},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TotalAmount != newTotal || len(updated.Splits) != 2 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	got, _ := svc.GetByID(ctx, created.ID)
	var sum int64
	for _, split := range got.Splits {
		sum += split.AmountOwed
	}
	if sum != newTotal {
		t.Fatalf("persisted splits sum %d != total %d", sum, newTotal)
	}
}

func TestToggle(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, start)
	ctx := context.Background()

	if err := svc.Toggle(ctx, snowflake.ID(999), false); !errors.Is(err, recurringdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := svc.Create(ctx, scheduleRequest(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Toggle(ctx, created.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// Inactive schedules are never picked up by the generator.
	result, err := svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Generated != 0 {
		t.Fatalf("inactive schedule generated %d invoices", result.Generated)
	}

	listed, err := svc.List(ctx, recurringdomain.ListScheduleRequest{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed.Schedules) != 0 {
		t.Fatalf("active-only list returned %d schedules", len(listed.Schedules))
	}
}

func TestProcessDueInvoices_GeneratesAndAdvancesCursor(t *testing.T) {
	// Cursor at Jan 1, generator first runs mid February.
	svc, _, db := newTestService(t, time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	created, err := svc.Create(ctx, scheduleRequest(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Generated != 1 || result.Errors != 0 {
		t.Fatalf("expected 1 generated, got %+v", result)
	}

	// One cycle per pass: the cursor moves from its own prior value, not
	// from the wall clock, so the missed cycle is still owed.
	got, _ := svc.GetByID(ctx, created.ID)
	wantCursor := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.NextRunDate.Equal(wantCursor) {
		t.Fatalf("expected cursor %s, got %s", wantCursor, got.NextRunDate)
	}

	var invoices []invoicedomain.Invoice
	if err := db.Where("recurring_invoice_id = ?", created.ID).Find(&invoices).Error; err != nil {
		t.Fatalf("load invoices: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.Status != invoicedomain.InvoiceStatusOpen || inv.IssuedDate == nil {
		t.Fatalf("generated invoice must be issued OPEN: %+v", inv)
	}
	wantDue := time.Date(2024, 2, 22, 10, 0, 0, 0, time.UTC)
	if !inv.DueDate.Equal(wantDue) {
		t.Fatalf("expected due %s, got %s", wantDue, inv.DueDate)
	}
	var payCount int64
	db.Model(&invoicedomain.InvoicePayment{}).Where("invoice_id = ?", inv.ID).Count(&payCount)
	if payCount != 2 {
		t.Fatalf("expected 2 payment rows, got %d", payCount)
	}

	// Second pass drains the backlog cycle, third pass finds nothing due.
	result, err = svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Generated != 1 {
		t.Fatalf("backlog pass expected 1 generated, got %+v", result)
	}
	got, _ = svc.GetByID(ctx, created.ID)
	if !got.NextRunDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected cursor 2024-03-01, got %s", got.NextRunDate)
	}

	result, err = svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Generated != 0 {
		t.Fatalf("caught-up pass expected 0 generated, got %+v", result)
	}
}

func TestProcessDueInvoices_RetiresEndedSchedules(t *testing.T) {
	svc, fc, db := newTestService(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	req := scheduleRequest(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	req.EndDate = &end
	created, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fc.Set(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	result, err := svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Retired != 1 || result.Generated != 0 {
		t.Fatalf("expected retirement only, got %+v", result)
	}

	got, _ := svc.GetByID(ctx, created.ID)
	if got.Active {
		t.Fatal("ended schedule still active")
	}
	var count int64
	db.Model(&invoicedomain.Invoice{}).Where("recurring_invoice_id = ?", created.ID).Count(&count)
	if count != 0 {
		t.Fatalf("retired schedule generated %d invoices", count)
	}
}

func TestProcessDueInvoices_IsolatesFailures(t *testing.T) {
	svc, _, db := newTestService(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	nextRun := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	good1, err := svc.Create(ctx, scheduleRequest(nextRun))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	broken, err := svc.Create(ctx, scheduleRequest(nextRun))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	good2, err := svc.Create(ctx, scheduleRequest(nextRun))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Corrupt one schedule's splits so its generation fails validation.
	err = db.Exec(`DELETE FROM recurring_invoice_splits WHERE recurring_invoice_id = ?`, broken.ID).Error
	if err != nil {
		t.Fatalf("corrupt splits: %v", err)
	}

	result, err := svc.ProcessDueInvoices(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Generated != 2 || result.Errors != 1 {
		t.Fatalf("expected 2 generated 1 error, got %+v", result)
	}

	for _, id := range []snowflake.ID{good1.ID, good2.ID} {
		var count int64
		db.Model(&invoicedomain.Invoice{}).Where("recurring_invoice_id = ?", id).Count(&count)
		if count != 1 {
			t.Fatalf("sibling schedule %s generated %d invoices", id, count)
		}
	}
	// The broken schedule's cursor must not advance.
	got, _ := svc.GetByID(ctx, broken.ID)
	if !got.NextRunDate.Equal(nextRun) {
		t.Fatalf("failed schedule cursor moved to %s", got.NextRunDate)
	}
}

func TestDelete_RemovesSplits(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, db := newTestService(t, start)
	ctx := context.Background()

	created, err := svc.Create(ctx, scheduleRequest(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetByID(ctx, created.ID); !errors.Is(err, recurringdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var count int64
	db.Model(&recurringdomain.RecurringInvoiceSplit{}).Where("recurring_invoice_id = ?", created.ID).Count(&count)
	if count != 0 {
		t.Fatalf("%d orphaned splits", count)
	}

	if err := svc.Delete(ctx, created.ID); !errors.Is(err, recurringdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

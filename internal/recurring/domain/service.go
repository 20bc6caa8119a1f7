package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
)

type CreateScheduleRequest struct {
	PropertyID    snowflake.ID               `json:"property_id"`
	Type          invoicedomain.InvoiceType  `json:"type"`
	Description   string                     `json:"description"`
	TotalAmount   int64                      `json:"total_amount"`
	Frequency     Frequency                  `json:"frequency"`
	NextRunDate   time.Time                  `json:"next_run_date"`
	DueDaysOffset int                        `json:"due_days_offset"`
	EndDate       *time.Time                 `json:"end_date"`
	Splits        []invoicedomain.SplitInput `json:"splits"`
}

type UpdateScheduleRequest struct {
	ID            snowflake.ID               `json:"id"`
	Description   *string                    `json:"description"`
	TotalAmount   *int64                     `json:"total_amount"`
	Frequency     *Frequency                 `json:"frequency"`
	NextRunDate   *time.Time                 `json:"next_run_date"`
	DueDaysOffset *int                       `json:"due_days_offset"`
	EndDate       *time.Time                 `json:"end_date"`
	Splits        []invoicedomain.SplitInput `json:"splits"`
}

type ListScheduleRequest struct {
	PropertyID snowflake.ID
	ActiveOnly bool
}

type ListScheduleResponse struct {
	Schedules []RecurringInvoice `json:"schedules"`
}

// GenerationResult aggregates one generator pass.
type GenerationResult struct {
	Generated int `json:"generated"`
	Retired   int `json:"retired"`
	Errors    int `json:"errors"`
}

type Service interface {
	Create(ctx context.Context, req CreateScheduleRequest) (RecurringInvoice, error)
	Update(ctx context.Context, req UpdateScheduleRequest) (RecurringInvoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (RecurringInvoice, error)
	List(ctx context.Context, req ListScheduleRequest) (ListScheduleResponse, error)
	Toggle(ctx context.Context, id snowflake.ID, active bool) error
	Delete(ctx context.Context, id snowflake.ID) error

	// ProcessDueInvoices materializes one invoice per due schedule inside
	// a per-schedule transaction and advances each cursor by one cycle.
	// Failures are isolated: one broken schedule never blocks its siblings.
	ProcessDueInvoices(ctx context.Context) (GenerationResult, error)
}

var (
	ErrNotFound         = errors.New("schedule_not_found")
	ErrInvalidFrequency = errors.New("invalid_frequency")
	ErrInactive         = errors.New("schedule_inactive")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/pkg/db/pagination"
)

// SplitInput is one tenant's share supplied at invoice creation.
type SplitInput struct {
	UserID     snowflake.ID `json:"user_id"`
	AmountOwed int64        `json:"amount_owed"`
}

type CreateInvoiceRequest struct {
	PropertyID  snowflake.ID `json:"property_id"`
	Type        InvoiceType  `json:"type"`
	Description string       `json:"description"`
	TotalAmount int64        `json:"total_amount"`
	DueDate     time.Time    `json:"due_date"`
	Draft       bool         `json:"draft"`
	Splits      []SplitInput `json:"splits"`
}

type ListInvoiceRequest struct {
	PageToken  string
	PageSize   int32
	PropertyID snowflake.ID
	Status     InvoiceStatus
	Type       InvoiceType
	DueFrom    *time.Time
	DueTo      *time.Time
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// SweepResult reports what an overdue sweep touched.
type SweepResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Issue(ctx context.Context, id snowflake.ID) error
	Void(ctx context.Context, id snowflake.ID, reason string) error
	Delete(ctx context.Context, id snowflake.ID) error

	// Reconcile recomputes the derived status from payment rows and the
	// clock. It is idempotent and a no-op for missing invoices.
	Reconcile(ctx context.Context, id snowflake.ID) error

	// SweepOverdue reconciles every non-terminal invoice whose due date
	// has passed. An empty propertyIDs slice means all properties.
	SweepOverdue(ctx context.Context, propertyIDs []snowflake.ID) (SweepResult, error)
}

var (
	ErrNotFound            = errors.New("invoice_not_found")
	ErrPaymentNotFound     = errors.New("invoice_payment_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_invoice_type")
	ErrNoSplits            = errors.New("invoice_requires_splits")
	ErrSplitSumMismatch    = errors.New("split_sum_mismatch")
	ErrIntegrityViolation  = errors.New("accounting_integrity_violation")
	ErrNotDraft            = errors.New("invoice_not_draft")
	ErrAlreadyVoid         = errors.New("invoice_already_void")
	ErrDuplicateSplitUser  = errors.New("duplicate_split_user")
)

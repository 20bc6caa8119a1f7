// Package domain defines the tenant and landlord payment workflows that act
// on individual invoice shares.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
)

// MarkPaidRequest is a tenant's self-report that a share was paid. It does
// not move money on the books; only landlord confirmation does.
type MarkPaidRequest struct {
	PaymentID snowflake.ID `json:"payment_id"`
	UserID    snowflake.ID `json:"user_id"`
	Reference string       `json:"reference"`
}

// ConfirmPaymentRequest is the landlord's confirmation of received funds.
// A zero Amount confirms the full share.
type ConfirmPaymentRequest struct {
	PaymentID snowflake.ID `json:"payment_id"`
	Amount    int64        `json:"amount"`
	AdminNote string       `json:"admin_note"`
}

type RequestExtensionRequest struct {
	PaymentID snowflake.ID `json:"payment_id"`
	UserID    snowflake.ID `json:"user_id"`
	Days      int          `json:"days"`
	Reason    string       `json:"reason"`
}

type ResolveExtensionRequest struct {
	PaymentID snowflake.ID `json:"payment_id"`
	Days      *int         `json:"days"`
	AdminNote string       `json:"admin_note"`
}

type ListUserPaymentsRequest struct {
	UserID     snowflake.ID
	UnpaidOnly bool
}

type ListUserPaymentsResponse struct {
	Payments []invoicedomain.InvoicePayment `json:"payments"`
}

type Service interface {
	GetPayment(ctx context.Context, id snowflake.ID) (invoicedomain.InvoicePayment, error)
	ListUserPayments(ctx context.Context, req ListUserPaymentsRequest) (ListUserPaymentsResponse, error)

	MarkPaid(ctx context.Context, req MarkPaidRequest) error
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) error

	RequestExtension(ctx context.Context, req RequestExtensionRequest) error
	CancelExtension(ctx context.Context, paymentID, userID snowflake.ID) error
	ApproveExtension(ctx context.Context, req ResolveExtensionRequest) error
	RejectExtension(ctx context.Context, req ResolveExtensionRequest) error
}

var (
	ErrNotOwner            = errors.New("payment_not_owned")
	ErrAlreadyPaid         = errors.New("payment_already_paid")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrExtensionPending    = errors.New("extension_already_pending")
	ErrExtensionApproved   = errors.New("extension_already_approved")
	ErrExtensionNotPending = errors.New("extension_not_pending")
	ErrInvalidDays         = errors.New("invalid_extension_days")
)

package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"github.com/leaseworks/leaseworks/internal/clock"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	paymentdomain "github.com/leaseworks/leaseworks/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (invoicedomain.InvoicePayment, error) {
	var payment invoicedomain.InvoicePayment
	err := s.db.WithContext(ctx).First(&payment, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.InvoicePayment{}, invoicedomain.ErrPaymentNotFound
		}
		return invoicedomain.InvoicePayment{}, err
	}
	return payment, nil
}

func (s *Service) ListUserPayments(ctx context.Context, req paymentdomain.ListUserPaymentsRequest) (paymentdomain.ListUserPaymentsResponse, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("id DESC")
	if req.UnpaidOnly {
		query = query.Where("status <> ?", invoicedomain.PaymentStatusPaid)
	}

	var payments []invoicedomain.InvoicePayment
	if err := query.Find(&payments).Error; err != nil {
		return paymentdomain.ListUserPaymentsResponse{}, err
	}
	return paymentdomain.ListUserPaymentsResponse{Payments: payments}, nil
}

// MarkPaid records the tenant's claim and reference. It never touches
// AmountPaid, so the invoice status cannot change until the landlord
// confirms, but we reconcile anyway to keep the invoice fresh.
func (s *Service) MarkPaid(ctx context.Context, req paymentdomain.MarkPaidRequest) error {
	payment, invoice, err := s.loadPayable(ctx, req.PaymentID)
	if err != nil {
		return err
	}
	if payment.UserID != req.UserID {
		return paymentdomain.ErrNotOwner
	}
	if payment.Status == invoicedomain.PaymentStatusPaid {
		return paymentdomain.ErrAlreadyPaid
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET tenant_marked_paid_at = ?, payment_reference = ?, updated_at = ?
		 WHERE id = ?`,
		now,
		strings.TrimSpace(req.Reference),
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, invoice, payment, auditdomain.ActorTypeTenant, "payment.mark_paid", map[string]any{
		"reference": req.Reference,
	})
	return s.invoiceSvc.Reconcile(ctx, payment.InvoiceID)
}

func (s *Service) ConfirmPayment(ctx context.Context, req paymentdomain.ConfirmPaymentRequest) error {
	payment, invoice, err := s.loadPayable(ctx, req.PaymentID)
	if err != nil {
		return err
	}

	amount := req.Amount
	if amount == 0 {
		amount = payment.AmountOwed
	}
	if amount < 0 {
		return invoicedomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET amount_paid = ?, paid_at = ?, admin_note = ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		now,
		strings.TrimSpace(req.AdminNote),
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, invoice, payment, auditdomain.ActorTypeLandlord, "payment.confirm", map[string]any{
		"amount": amount,
	})
	return s.invoiceSvc.Reconcile(ctx, payment.InvoiceID)
}

func (s *Service) RequestExtension(ctx context.Context, req paymentdomain.RequestExtensionRequest) error {
	if req.Days <= 0 {
		return paymentdomain.ErrInvalidDays
	}
	payment, invoice, err := s.loadPayable(ctx, req.PaymentID)
	if err != nil {
		return err
	}
	if payment.UserID != req.UserID {
		return paymentdomain.ErrNotOwner
	}
	if payment.Status == invoicedomain.PaymentStatusPaid {
		return paymentdomain.ErrAlreadyPaid
	}
	switch payment.ExtensionStatus {
	case invoicedomain.ExtensionStatusPending:
		return paymentdomain.ErrExtensionPending
	case invoicedomain.ExtensionStatusApproved:
		return paymentdomain.ErrExtensionApproved
	}

	// Only approval moves due_date_extension_days; until then the asked-for
	// days live in their own column.
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET extension_status = ?, extension_requested_date = ?, extension_reason = ?,
		     extension_requested_days = ?, updated_at = ?
		 WHERE id = ?`,
		invoicedomain.ExtensionStatusPending,
		now,
		strings.TrimSpace(req.Reason),
		req.Days,
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, invoice, payment, auditdomain.ActorTypeTenant, "extension.request", map[string]any{
		"days":   req.Days,
		"reason": req.Reason,
	})
	// A request alone never moves the derived status; resolution does.
	return nil
}

func (s *Service) CancelExtension(ctx context.Context, paymentID, userID snowflake.ID) error {
	payment, invoice, err := s.loadPayable(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.UserID != userID {
		return paymentdomain.ErrNotOwner
	}
	if payment.ExtensionStatus != invoicedomain.ExtensionStatusPending {
		return paymentdomain.ErrExtensionNotPending
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET extension_status = ?, extension_requested_date = NULL, extension_reason = '',
		     extension_requested_days = 0, due_date_extension_days = 0, updated_at = ?
		 WHERE id = ?`,
		invoicedomain.ExtensionStatusNone,
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, invoice, payment, auditdomain.ActorTypeTenant, "extension.cancel", nil)
	return nil
}

func (s *Service) ApproveExtension(ctx context.Context, req paymentdomain.ResolveExtensionRequest) error {
	return s.resolveExtension(ctx, req, invoicedomain.ExtensionStatusApproved, "extension.approve")
}

func (s *Service) RejectExtension(ctx context.Context, req paymentdomain.ResolveExtensionRequest) error {
	return s.resolveExtension(ctx, req, invoicedomain.ExtensionStatusRejected, "extension.reject")
}

func (s *Service) resolveExtension(ctx context.Context, req paymentdomain.ResolveExtensionRequest, status invoicedomain.ExtensionStatus, action string) error {
	payment, invoice, err := s.loadPayable(ctx, req.PaymentID)
	if err != nil {
		return err
	}
	if payment.ExtensionStatus != invoicedomain.ExtensionStatusPending {
		return paymentdomain.ErrExtensionNotPending
	}

	days := payment.ExtensionRequestedDays
	if req.Days != nil {
		if *req.Days <= 0 {
			return paymentdomain.ErrInvalidDays
		}
		days = *req.Days
	}

	// A rejected request grants nothing.
	applied := 0
	if status == invoicedomain.ExtensionStatusApproved {
		applied = days
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET extension_status = ?, due_date_extension_days = ?, admin_note = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		applied,
		strings.TrimSpace(req.AdminNote),
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, invoice, payment, auditdomain.ActorTypeLandlord, action, map[string]any{
		"days": days,
	})
	return s.invoiceSvc.Reconcile(ctx, payment.InvoiceID)
}

// loadPayable fetches a payment and its invoice, rejecting shares on
// invoices a tenant cannot act on.
func (s *Service) loadPayable(ctx context.Context, paymentID snowflake.ID) (invoicedomain.InvoicePayment, invoicedomain.Invoice, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return invoicedomain.InvoicePayment{}, invoicedomain.Invoice{}, err
	}

	var invoice invoicedomain.Invoice
	err = s.db.WithContext(ctx).First(&invoice, "id = ?", payment.InvoiceID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.InvoicePayment{}, invoicedomain.Invoice{}, invoicedomain.ErrNotFound
		}
		return invoicedomain.InvoicePayment{}, invoicedomain.Invoice{}, err
	}
	if invoice.Status == invoicedomain.InvoiceStatusDraft || invoice.Status == invoicedomain.InvoiceStatusVoid {
		return invoicedomain.InvoicePayment{}, invoicedomain.Invoice{}, paymentdomain.ErrInvoiceNotPayable
	}
	// A settled invoice accepts no further claims, confirmations or
	// extension traffic, even on shares another tenant covered.
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return invoicedomain.InvoicePayment{}, invoicedomain.Invoice{}, paymentdomain.ErrAlreadyPaid
	}
	return payment, invoice, nil
}

func (s *Service) audit(ctx context.Context, invoice invoicedomain.Invoice, payment invoicedomain.InvoicePayment, actorType string, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	propertyID := invoice.PropertyID
	targetID := payment.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &propertyID, actorType, nil, action, "invoice_payment", &targetID, metadata)
}

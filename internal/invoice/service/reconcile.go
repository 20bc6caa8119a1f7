package service

import (
	"time"

	"github.com/leaseworks/leaseworks/internal/config"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
)

// DeriveStatus computes the derived invoice status from its payment rows at
// the given instant. It is pure: fixed inputs always yield the same status.
// Administrative states (DRAFT, VOID) are never returned; callers must not
// invoke derivation for invoices in those states.
func DeriveStatus(
	inv invoicedomain.Invoice,
	payments []invoicedomain.InvoicePayment,
	now time.Time,
	policy config.BillingConfig,
) invoicedomain.InvoiceStatus {
	var totalPaid int64
	for _, p := range payments {
		totalPaid += p.AmountPaid
	}

	switch {
	case totalPaid >= inv.TotalAmount && inv.TotalAmount > 0:
		return invoicedomain.InvoiceStatusPaid
	case totalPaid > 0:
		return invoicedomain.InvoiceStatusPartial
	}

	for _, p := range payments {
		if p.Status == invoicedomain.PaymentStatusPaid {
			continue
		}
		if pastDue(inv.DueDate, p, now, policy) {
			return invoicedomain.InvoiceStatusOverdue
		}
	}
	return invoicedomain.InvoiceStatusOpen
}

// DerivePaymentStatus computes the informational per-tenant mirror status.
func DerivePaymentStatus(
	inv invoicedomain.Invoice,
	p invoicedomain.InvoicePayment,
	now time.Time,
	policy config.BillingConfig,
) invoicedomain.PaymentStatus {
	switch {
	case p.AmountPaid >= p.AmountOwed && p.AmountOwed > 0:
		return invoicedomain.PaymentStatusPaid
	case p.AmountPaid > 0:
		return invoicedomain.PaymentStatusPartial
	}
	if pastDue(inv.DueDate, p, now, policy) {
		return invoicedomain.PaymentStatusOverdue
	}
	return invoicedomain.PaymentStatusPending
}

// pastDue applies the tenant's extension (per policy) and the flat grace
// window before comparing against the clock.
func pastDue(dueDate time.Time, p invoicedomain.InvoicePayment, now time.Time, policy config.BillingConfig) bool {
	effective := p.EffectiveDueDate(dueDate, policy.AppliesExtension)
	if policy.OverdueGraceDays > 0 {
		effective = effective.AddDate(0, 0, policy.OverdueGraceDays)
	}
	return now.After(effective)
}

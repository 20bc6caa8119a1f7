package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/leaseworks/leaseworks/internal/payment/domain"
)

func (s *Server) GetPaymentByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Tenants only see their own shares.
	if c.GetString(ctxActorTypeKey) == actorTypeTenant && payment.UserID != callerID(c) {
		AbortWithError(c, ErrForbidden)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) ListMyPayments(c *gin.Context) {
	unpaidOnly, err := parseOptionalBool(c.Query("unpaid_only"))
	if err != nil {
		AbortWithError(c, newValidationError("unpaid_only", "invalid_bool", "invalid value"))
		return
	}

	req := paymentdomain.ListUserPaymentsRequest{UserID: callerID(c)}
	if unpaidOnly != nil {
		req.UnpaidOnly = *unpaidOnly
	}

	resp, err := s.paymentSvc.ListUserPayments(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments})
}

func (s *Server) MarkPaymentPaid(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Reference string `json:"reference"`
	}
	_ = c.ShouldBindJSON(&body)

	err = s.paymentSvc.MarkPaid(c.Request.Context(), paymentdomain.MarkPaidRequest{
		PaymentID: id,
		UserID:    callerID(c),
		Reference: body.Reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "marked"})
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Amount    int64  `json:"amount"`
		AdminNote string `json:"admin_note"`
	}
	_ = c.ShouldBindJSON(&body)

	err = s.paymentSvc.ConfirmPayment(c.Request.Context(), paymentdomain.ConfirmPaymentRequest{
		PaymentID: id,
		Amount:    body.Amount,
		AdminNote: body.AdminNote,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

func (s *Server) RequestExtension(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Days   int    `json:"days"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.RequestExtension(c.Request.Context(), paymentdomain.RequestExtensionRequest{
		PaymentID: id,
		UserID:    callerID(c),
		Days:      body.Days,
		Reason:    strings.TrimSpace(body.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

func (s *Server) CancelExtension(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.paymentSvc.CancelExtension(c.Request.Context(), id, callerID(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) ApproveExtension(c *gin.Context) {
	s.resolveExtension(c, true)
}

func (s *Server) RejectExtension(c *gin.Context) {
	s.resolveExtension(c, false)
}

func (s *Server) resolveExtension(c *gin.Context, approve bool) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Days      *int   `json:"days"`
		AdminNote string `json:"admin_note"`
	}
	_ = c.ShouldBindJSON(&body)

	req := paymentdomain.ResolveExtensionRequest{
		PaymentID: id,
		Days:      body.Days,
		AdminNote: body.AdminNote,
	}
	if approve {
		err = s.paymentSvc.ApproveExtension(c.Request.Context(), req)
	} else {
		err = s.paymentSvc.RejectExtension(c.Request.Context(), req)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := "rejected"
	if approve {
		status = "approved"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

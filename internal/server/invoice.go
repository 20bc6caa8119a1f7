package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
)

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListInvoiceRequest{
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  parsePageSize(c.Query("page_size")),
		Status:    invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Type:      invoicedomain.InvoiceType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
	}

	propertyID, err := parseOptionalSnowflakeID(c.Query("property_id"))
	if err != nil {
		AbortWithError(c, newValidationError("property_id", "invalid_id", "invalid id"))
		return
	}
	if propertyID != nil {
		req.PropertyID = *propertyID
	}

	if req.DueFrom, err = parseOptionalTime(c.Query("due_from"), false); err != nil {
		AbortWithError(c, newValidationError("due_from", "invalid_time", "invalid time"))
		return
	}
	if req.DueTo, err = parseOptionalTime(c.Query("due_to"), true); err != nil {
		AbortWithError(c, newValidationError("due_to", "invalid_time", "invalid time"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) IssueInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.Issue(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "issued"})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := s.invoiceSvc.Void(c.Request.Context(), id, body.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "void"})
}

func (s *Server) ReconcileInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.Reconcile(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

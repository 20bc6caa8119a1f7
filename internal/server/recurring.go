package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
)

func (s *Server) ListRecurringInvoices(c *gin.Context) {
	req := recurringdomain.ListScheduleRequest{}

	propertyID, err := parseOptionalSnowflakeID(c.Query("property_id"))
	if err != nil {
		AbortWithError(c, newValidationError("property_id", "invalid_id", "invalid id"))
		return
	}
	if propertyID != nil {
		req.PropertyID = *propertyID
	}

	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_bool", "invalid value"))
		return
	}
	if activeOnly != nil {
		req.ActiveOnly = *activeOnly
	}

	resp, err := s.recurringSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Schedules})
}

func (s *Server) CreateRecurringInvoice(c *gin.Context) {
	var req recurringdomain.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	schedule, err := s.recurringSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": schedule})
}

func (s *Server) GetRecurringInvoiceByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	schedule, err := s.recurringSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) UpdateRecurringInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recurringdomain.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	schedule, err := s.recurringSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) ActivateRecurringInvoice(c *gin.Context) {
	s.toggleRecurringInvoice(c, true)
}

func (s *Server) DeactivateRecurringInvoice(c *gin.Context) {
	s.toggleRecurringInvoice(c, false)
}

func (s *Server) toggleRecurringInvoice(c *gin.Context, active bool) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.recurringSvc.Toggle(c.Request.Context(), id, active); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) DeleteRecurringInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.recurringSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RunRecurringGeneration triggers one generator pass outside the
// scheduler tick, mainly for operators catching up after downtime.
func (s *Server) RunRecurringGeneration(c *gin.Context) {
	result, err := s.recurringSvc.ProcessDueInvoices(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"casetrack-go/internal/model"
)

// GetCases returns all cases, open first, newest first within each group.
func (h *Handlers) GetCases(c *gin.Context) {
	cases, err := h.repo.ListCases()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch cases",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}
	c.JSON(http.StatusOK, cases)
}

// GetCase returns a single case with its messages.
func (h *Handlers) GetCase(c *gin.Context) {
	caseID := c.Param("id")

	found, err := h.repo.FindCaseByID(caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch case", Code: http.StatusInternalServerError})
		return
	}
	if found == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Case not found", Code: http.StatusNotFound})
		return
	}

	messages, err := h.repo.CaseMessages(caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch case messages", Code: http.StatusInternalServerError})
		return
	}
	found.Messages = messages

	c.JSON(http.StatusOK, found)
}

package delegation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for delegation onboarding.
type Handler struct {
	store    Store
	verifier *Verifier
}

// NewHandler creates a new delegation handler. A nil verifier disables
// signature checking (demo mode).
func NewHandler(store Store, verifier *Verifier) *Handler {
	return &Handler{store: store, verifier: verifier}
}

// RegisterRoutes sets up delegation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/delegations", h.StoreDelegation)
	r.GET("/delegations/:address", h.GetDelegation)
	r.GET("/delegations/:address/exists", h.HasDelegation)
	r.DELETE("/delegations/:address", h.DeleteDelegation)
}

// StoreRequest is the body posted by the frontend after the user signs.
type StoreRequest struct {
	UserAddress string     `json:"userAddress"`
	Delegation  Delegation `json:"delegation"`
}

// StoreDelegation handles POST /v1/delegations
func (h *Handler) StoreDelegation(c *gin.Context) {
	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	var errs validation.FieldErrors
	if !validation.IsValidEthAddress(req.UserAddress) {
		errs.Add("userAddress", "must be a 20-byte hex address")
	}
	errs = append(errs, req.Delegation.Validate()...)
	if !errs.HasErrors() && !strings.EqualFold(req.UserAddress, req.Delegation.Delegator) {
		errs.Add("delegation.delegator", "must match userAddress")
	}
	if errs.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(&req.Delegation); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_signature",
				"message": err.Error(),
			})
			return
		}
	}

	owner := validation.NormalizeAddress(req.UserAddress)
	if err := h.store.Put(c.Request.Context(), owner, &req.Delegation); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store delegation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"userAddress": owner,
	})
}

// GetDelegation handles GET /v1/delegations/:address
func (h *Handler) GetDelegation(c *gin.Context) {
	owner := validation.NormalizeAddress(c.Param("address"))

	d, err := h.store.Get(c.Request.Context(), owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":       "not_found",
				"userAddress": owner,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to retrieve delegation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"delegation": d,
	})
}

// HasDelegation handles GET /v1/delegations/:address/exists
func (h *Handler) HasDelegation(c *gin.Context) {
	owner := validation.NormalizeAddress(c.Param("address"))

	exists, err := h.store.Exists(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to check delegation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":      exists,
		"userAddress": owner,
	})
}

// DeleteDelegation handles DELETE /v1/delegations/:address
func (h *Handler) DeleteDelegation(c *gin.Context) {
	owner := validation.NormalizeAddress(c.Param("address"))

	if err := h.store.Delete(c.Request.Context(), owner); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete delegation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"userAddress": owner,
	})
}

package handlers

import (
	"net/http"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/gin-gonic/gin"
)

// PlanFrontHandler serves the plan catalog.
type PlanFrontHandler struct {
	catalog *plans.Catalog
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(catalog *plans.Catalog) *PlanFrontHandler {
	return &PlanFrontHandler{catalog: catalog}
}

// List returns the catalog ordered by rank.
func (h *PlanFrontHandler) List(c *gin.Context) {
	all := plans.All()
	out := make([]gin.H, 0, len(all))
	for _, plan := range all {
		_, errPrice := h.catalog.PriceID(plan.Tier)
		out = append(out, gin.H{
			"tier":                plan.Tier,
			"name":                plan.Name,
			"monthly_price_cents": plan.MonthlyPriceCents,
			"price_unit":          plan.PriceUnit,
			"limits":              plan.Limits,
			"rank":                plan.Rank,
			"features":            plan.Features,
			"purchasable":         errPrice == nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plans": out})
}

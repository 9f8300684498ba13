package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/accounts"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
)

// AccountFrontHandler manages the signed-in account and its plan-limited
// resources.
type AccountFrontHandler struct {
	subscriptions *subscription.Service
	accounts      *accounts.Service
}

// NewAccountFrontHandler constructs an AccountFrontHandler.
func NewAccountFrontHandler(subscriptions *subscription.Service, accountService *accounts.Service) *AccountFrontHandler {
	return &AccountFrontHandler{subscriptions: subscriptions, accounts: accountService}
}

// signupRequest defines the request body for account signup.
type signupRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Tier  string `json:"tier"`
}

// Signup creates the account of the token subject and starts its trial.
func (h *AccountFrontHandler) Signup(c *gin.Context) {
	var body signupRequest
	if !bindOptional(c, &body) {
		return
	}
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	req := subscription.SignupRequest{AccountID: accountID, Email: body.Email, Name: body.Name}
	if strings.TrimSpace(body.Tier) != "" {
		tier, errTier := plans.ParseTier(body.Tier)
		if errTier != nil {
			respondInvalid(c, "tier must be one of family, single_agency, multi_agency")
			return
		}
		req.Tier = tier
	}
	if req.Email == "" {
		req.Email = c.GetString(EmailKey)
	}
	view, err := h.subscriptions.Signup(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "subscription": view})
}

// Usage returns the resource usage of the account.
func (h *AccountFrontHandler) Usage(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	snap, err := h.accounts.Usage(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "usage": snap})
}

// ListMembers returns the members of the account.
func (h *AccountFrontHandler) ListMembers(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	rows, err := h.accounts.ListMembers(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"name":       row.Name,
			"email":      row.Email,
			"role":       row.Role,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "members": out})
}

// memberRequest defines the request body for adding members.
type memberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AddMember adds a member within the plan limit.
func (h *AccountFrontHandler) AddMember(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	var body memberRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondInvalid(c, "invalid json")
		return
	}
	member := models.Member{
		AccountID: accountID,
		Name:      body.Name,
		Email:     strings.TrimSpace(body.Email),
		Role:      models.MemberRole(strings.ToLower(strings.TrimSpace(body.Role))),
	}
	if err := h.accounts.AddMember(c.Request.Context(), &member); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": member.ID})
}

// RemoveMember removes a member.
func (h *AccountFrontHandler) RemoveMember(c *gin.Context) {
	h.remove(c, h.accounts.RemoveMember)
}

// ListElders returns the care recipients of the account.
func (h *AccountFrontHandler) ListElders(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	rows, err := h.accounts.ListElders(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{"id": row.ID, "name": row.Name, "created_at": row.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "elders": out})
}

// elderRequest defines the request body for adding elders.
type elderRequest struct {
	Name string `json:"name"`
}

// AddElder adds a care recipient within the plan limit.
func (h *AccountFrontHandler) AddElder(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	var body elderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondInvalid(c, "invalid json")
		return
	}
	elder := models.Elder{AccountID: accountID, Name: body.Name}
	if err := h.accounts.AddElder(c.Request.Context(), &elder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": elder.ID})
}

// RemoveElder removes a care recipient.
func (h *AccountFrontHandler) RemoveElder(c *gin.Context) {
	h.remove(c, h.accounts.RemoveElder)
}

// ListStorage returns the stored objects of the account.
func (h *AccountFrontHandler) ListStorage(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	rows, err := h.accounts.ListStorage(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"name":       row.Name,
			"size_bytes": row.SizeBytes,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "objects": out})
}

// storageRequest defines the request body for recording stored objects.
type storageRequest struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// AddStorageObject records a stored object within the storage quota.
func (h *AccountFrontHandler) AddStorageObject(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	var body storageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondInvalid(c, "invalid json")
		return
	}
	obj := models.StorageObject{AccountID: accountID, Name: body.Name, SizeBytes: body.SizeBytes}
	if err := h.accounts.AddStorageObject(c.Request.Context(), &obj); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": obj.ID})
}

// RemoveStorageObject removes a stored object.
func (h *AccountFrontHandler) RemoveStorageObject(c *gin.Context) {
	h.remove(c, h.accounts.RemoveStorageObject)
}

func (h *AccountFrontHandler) remove(c *gin.Context, fn func(ctx context.Context, accountID string, id uint64) error) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		respondInvalid(c, "invalid id")
		return
	}
	if err := fn(c.Request.Context(), accountID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

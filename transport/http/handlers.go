package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairlink/adapters/relay"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/service"
)

// Approver accepts pairing approvals from peer wallets
type Approver interface {
	Approve(ctx context.Context, topic string, req relay.ApprovalRequest) error
}

// Handlers contains HTTP handlers for the pairing flow
type Handlers struct {
	flows      *service.Flows
	approver   Approver
	aggregator *service.Aggregator
}

// NewHandlers creates new handlers
func NewHandlers(flows *service.Flows, approver Approver, aggregator *service.Aggregator) *Handlers {
	return &Handlers{
		flows:      flows,
		approver:   approver,
		aggregator: aggregator,
	}
}

type sessionResponse struct {
	ID         string        `json:"id"`
	PairingURI string        `json:"pairing_uri,omitempty"`
	Status     core.Status   `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	Account    *core.Account `json:"account,omitempty"`
}

type flowResponse struct {
	FlowID            string           `json:"flow_id"`
	State             service.State    `json:"state"`
	Session           *sessionResponse `json:"session,omitempty"`
	AttemptsRemaining int              `json:"attempts_remaining,omitempty"`
	Message           string           `json:"message,omitempty"`
}

func newSessionResponse(s *core.Session) *sessionResponse {
	if s == nil {
		return nil
	}
	resp := &sessionResponse{
		ID:        s.ID,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		Account:   s.Account,
	}
	// the payload is only useful while it can still be scanned
	if s.Status == core.StatusPending {
		resp.PairingURI = s.PairingURI
	}
	return resp
}

func newFlowResponse(id string, snap service.Snapshot) flowResponse {
	return flowResponse{
		FlowID:            id,
		State:             snap.State,
		Session:           newSessionResponse(snap.Session),
		AttemptsRemaining: snap.AttemptsRemaining,
		Message:           core.UserMessage(snap.LastError),
	}
}

func (h *Handlers) controller(c *gin.Context) (*service.Controller, bool) {
	ctrl, err := h.flows.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ctrl, true
}

// CreateFlow starts a new client flow
func (h *Handlers) CreateFlow(c *gin.Context) {
	id, ctrl := h.flows.Create()
	c.JSON(http.StatusCreated, newFlowResponse(id, ctrl.Snapshot()))
}

// GetFlow reports the state of a flow
func (h *Handlers) GetFlow(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newFlowResponse(c.Param("id"), ctrl.Snapshot()))
}

// DeleteFlow tears a flow down
func (h *Handlers) DeleteFlow(c *gin.Context) {
	if err := h.flows.Remove(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Connect starts pairing and returns the pairing payload
func (h *Handlers) Connect(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	session, err := ctrl.Connect(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session))
}

// PairingQR renders the pairing payload as a PNG QR code
func (h *Handlers) PairingQR(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	png, err := ctrl.RenderPairing()
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// PairingText renders the pairing payload as a text QR code
func (h *Handlers) PairingText(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	text, err := ctrl.RenderPairingText()
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.String(http.StatusOK, text)
}

// SubmitCode verifies the one-time code shown on the paired wallet
func (h *Handlers) SubmitCode(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.ErrInvalidCode)
		return
	}

	grant, token, err := ctrl.SubmitCode(c.Request.Context(), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(time.Until(grant.ExpiresAt).Seconds()),
	})
}

// Back abandons the current step
func (h *Handlers) Back(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	if _, err := ctrl.Back(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newFlowResponse(c.Param("id"), ctrl.Snapshot()))
}

// Logout ends the authenticated session of a flow
func (h *Handlers) Logout(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	if err := ctrl.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Approve receives the peer wallet's approval for a pairing topic
func (h *Handlers) Approve(c *gin.Context) {
	var req relay.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request"})
		return
	}

	if err := h.approver.Approve(c.Request.Context(), c.Param("topic"), req); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Approved"})
}

// Me returns the authenticated account
func (h *Handlers) Me(c *gin.Context) {
	grant, ok := grantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Grant not found in context"})
		return
	}

	c.JSON(http.StatusOK, h.aggregator.Identity(accountOf(grant)))
}

// Balance returns the authenticated account's balance
func (h *Handlers) Balance(c *gin.Context) {
	grant, ok := grantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Grant not found in context"})
		return
	}

	balance, err := h.aggregator.FetchBalance(c.Request.Context(), accountOf(grant))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// Tokens returns the authenticated account's token balances
func (h *Handlers) Tokens(c *gin.Context) {
	grant, ok := grantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Grant not found in context"})
		return
	}

	balances, err := h.aggregator.FetchTokenBalances(c.Request.Context(), accountOf(grant))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": balances})
}

// Dashboard returns identity and balance, degrading if the balance fails
func (h *Handlers) Dashboard(c *gin.Context) {
	grant, ok := grantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Grant not found in context"})
		return
	}

	c.JSON(http.StatusOK, h.aggregator.Dashboard(c.Request.Context(), accountOf(grant)))
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "flows": h.flows.Len()})
}

func accountOf(grant *core.Grant) core.Account {
	return core.Account{Address: grant.Address, ChainID: grant.ChainID}
}

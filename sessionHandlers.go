package main

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"bitbucket.org/craftfocus/console_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const editSessionTTL = 30 * time.Minute

// editSessionState pins one open order form to its speculative session.
// Sessions live in process memory: abandoning the form (or letting it expire)
// drops the state without ever having touched stock. The session itself is
// not safe for concurrent use; mu serializes every edit/delete/submit on it.
type editSessionState struct {
	mu        sync.Mutex
	session   *workflow.EditSession
	requestId int
	orderTag  string
	expiresAt time.Time
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*editSessionState
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]*editSessionState{}}
}

func (r *sessionRegistry) put(state *editSessionState) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.sessions {
		if time.Now().After(s.expiresAt) {
			delete(r.sessions, key)
		}
	}
	r.sessions[id] = state
	return id
}

func (r *sessionRegistry) get(id string) (*editSessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.sessions[id]
	if !ok || time.Now().After(state.expiresAt) {
		delete(r.sessions, id)
		return nil, false
	}
	return state, true
}

func (r *sessionRegistry) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func beginEditSessionHandler(registry *sessionRegistry, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId, err := strconv.Atoi(c.Param("id"))
		if err != nil || requestId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request id"})
			return
		}
		request, err := models.GetOrderRequest(c.Request.Context(), requestId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order request not found"})
			return
		}
		if request.Status != models.OrderRequestStatusPending {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only Pending order requests can be edited"})
			return
		}

		session, err := coordinator.Begin(c.Request.Context(), request.Items)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open edit session"})
			return
		}
		sessionId := registry.put(&editSessionState{
			session:   session,
			requestId: requestId,
			orderTag:  request.Tag(),
			expiresAt: time.Now().Add(editSessionTTL),
		})
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sessionId,
			"items":      session.Lines(),
		})
	}
}

type editLineRequest struct {
	Item models.NewOrderLineItem `json:"item" binding:"required"`
}

func editSessionLineHandler(registry *sessionRegistry, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok := registry.get(c.Param("sid"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "edit session not found or expired"})
			return
		}
		var req editLineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if !req.Item.Quantity.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "line item must have a positive quantity"})
			return
		}
		if err := validateLineProducts(c.Request.Context(), []models.NewOrderLineItem{req.Item}); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		state.mu.Lock()
		defer state.mu.Unlock()

		items := models.BuildLineItems([]models.NewOrderLineItem{req.Item})
		result, err := coordinator.Edit(c.Request.Context(), state.session, c.Param("key"), items[0])
		if err != nil {
			if errors.Is(err, utils.ErrorInsufficientStock) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":        "insufficient stock",
					"availability": availabilityBody(result),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"availability": availabilityBody(result)})
	}
}

func deleteSessionLineHandler(registry *sessionRegistry, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok := registry.get(c.Param("sid"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "edit session not found or expired"})
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()

		if err := coordinator.Delete(c.Request.Context(), state.session, state.orderTag, c.Param("key")); err != nil {
			transitionErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": state.session.Lines()})
	}
}

func submitEditSessionHandler(registry *sessionRegistry, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("sid")
		state, ok := registry.get(sessionId)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "edit session not found or expired"})
			return
		}

		state.mu.Lock()
		defer state.mu.Unlock()

		deltas, err := coordinator.Submit(c.Request.Context(), state.session, state.orderTag)
		if err != nil {
			// The session keeps its state; the client may retry.
			transitionErrorResponse(c, err)
			return
		}

		inputs := make([]models.NewOrderLineItem, 0)
		for _, item := range state.session.Lines() {
			inputs = append(inputs, models.NewOrderLineItem{
				ProductId:   item.ProductId,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
		}
		request, err := models.ReplaceOrderRequestItems(c.Request.Context(), state.requestId, inputs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		registry.drop(sessionId)
		c.JSON(http.StatusOK, gin.H{
			"order_request": request,
			"stock_deltas":  deltas,
		})
	}
}

func abandonEditSessionHandler(registry *sessionRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Abandoning never touches stock; restorations from deletes stand.
		registry.drop(c.Param("sid"))
		c.Status(http.StatusNoContent)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"bitbucket.org/craftfocus/console_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func newMachine(logger *logrus.Logger) *workflow.Machine {
	stores := workflow.GormStores{}
	return &workflow.Machine{
		Orders: stores,
		Engine: &workflow.Engine{
			Materials: stores,
			Ledger:    stores,
			Catalog:   stores,
			Logger:    logger,
		},
		History: stores,
		Locker:  workflow.RedisOrderLocker{},
		Tx:      stores,
		Logger:  logger,
	}
}

func newSessionCoordinator(logger *logrus.Logger) *workflow.SessionCoordinator {
	stores := workflow.GormStores{}
	return &workflow.SessionCoordinator{
		Materials: stores,
		Ledger:    stores,
		Catalog:   stores,
		Locker:    workflow.RedisOrderLocker{},
		Tx:        stores,
		Logger:    logger,
	}
}

// actorMiddleware records who performs a transition. The console gateway in
// front of this service authenticates the user and forwards identity headers.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if userId, err := strconv.Atoi(c.GetHeader("x-user-id")); err == nil && userId > 0 {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := strings.TrimSpace(c.GetHeader("x-user-name")); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(validationErrors)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func availabilityBody(result workflow.AvailabilityResult) gin.H {
	return gin.H{
		"blocked":      result.Blocked(),
		"out_of_stock": result.OutOfStockMessages(),
		"low_stock":    result.LowStockMessages(),
	}
}

func reconcileBody(result *workflow.ReconcileResult) gin.H {
	if result == nil {
		return gin.H{}
	}
	movements := make([]gin.H, 0, len(result.Movements))
	for _, m := range result.Movements {
		movements = append(movements, gin.H{
			"material_id": m.MaterialId,
			"direction":   m.Direction,
			"quantity":    m.Quantity,
			"clamped":     m.Clamped,
		})
	}
	return gin.H{
		"movements": movements,
		"warnings":  result.Warnings,
		"partial":   result.Partial(),
	}
}

// validateLineProducts refuses line items naming a product that does not
// exist. Custom lines (no product id) pass through untouched.
func validateLineProducts(ctx context.Context, items []models.NewOrderLineItem) error {
	for _, item := range items {
		if item.ProductId == nil || *item.ProductId <= 0 {
			continue
		}
		if _, err := models.GetProduct(ctx, *item.ProductId); err != nil {
			return fmt.Errorf("product %d not found", *item.ProductId)
		}
	}
	return nil
}

func createOrderRequestHandler(logger *logrus.Logger, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	stores := workflow.GormStores{}
	return func(c *gin.Context) {
		var input models.NewOrderRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		if err := input.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		if err := validateLineProducts(ctx, input.Items); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		items := models.BuildLineItems(input.Items)
		availability, err := workflow.CheckOrderAvailability(ctx, stores, stores, items)
		if err != nil {
			config.LogError(logger, "server.go", "createOrderRequestHandler", "availability check", input, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "availability check failed"})
			return
		}
		if availability.Blocked() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":        "insufficient stock",
				"availability": availabilityBody(availability),
			})
			return
		}

		// Stage the lines in a session before creating anything; nothing is
		// persisted until the submit below.
		session, err := coordinator.Begin(ctx, nil)
		if err != nil {
			config.LogError(logger, "server.go", "createOrderRequestHandler", "open session", input, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not stage order lines"})
			return
		}
		for i, item := range items {
			if result, err := coordinator.Edit(ctx, session, fmt.Sprintf("line-%d", i+1), item); err != nil {
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
		}

		request, err := models.CreateOrderRequest(ctx, &input)
		if err != nil {
			config.LogError(logger, "server.go", "createOrderRequestHandler", "create request", input, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Submitting consumes the footprint speculatively under the request's
		// tag: approval later finds it already moved, rejection restores it.
		if _, err := coordinator.Submit(ctx, session, request.Tag()); err != nil {
			config.LogError(logger, "server.go", "createOrderRequestHandler", "reserve stock", input, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reserve stock for the request"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"order_request": request,
			"availability":  availabilityBody(availability),
		})
	}
}

type replaceItemsRequest struct {
	Items []models.NewOrderLineItem `json:"items" binding:"required,dive"`
}

// replaceOrderRequestItemsHandler replaces a Pending request's lines in one
// shot. It drives a server-side edit session so the replacement moves stock
// exactly like the interactive form: edits validated against the virtual
// snapshot, dropped trailing lines restored, the net committed under the
// request's tag.
func replaceOrderRequestItemsHandler(logger *logrus.Logger, coordinator *workflow.SessionCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request id"})
			return
		}
		var req replaceItemsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		ctx := c.Request.Context()
		request, err := models.GetOrderRequest(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order request not found"})
			return
		}
		if request.Status != models.OrderRequestStatusPending {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only Pending order requests can be edited"})
			return
		}
		if err := validateLineProducts(ctx, req.Items); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session, err := coordinator.Begin(ctx, request.Items)
		if err != nil {
			config.LogError(logger, "server.go", "replaceOrderRequestItemsHandler", "open session", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not stage order lines"})
			return
		}
		items := models.BuildLineItems(req.Items)
		for i, item := range items {
			if result, err := coordinator.Edit(ctx, session, fmt.Sprintf("line-%d", i+1), item); err != nil {
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
		}
		for i := len(items) + 1; i <= len(request.Items); i++ {
			if err := coordinator.Delete(ctx, session, request.Tag(), fmt.Sprintf("line-%d", i)); err != nil {
				transitionErrorResponse(c, err)
				return
			}
		}
		deltas, err := coordinator.Submit(ctx, session, request.Tag())
		if err != nil {
			transitionErrorResponse(c, err)
			return
		}

		updated, err := models.ReplaceOrderRequestItems(ctx, id, req.Items)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order request not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order_request": updated,
			"stock_deltas":  deltas,
		})
	}
}

func getOrderRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request id"})
			return
		}
		request, err := models.GetOrderRequest(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order request not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_request": request})
	}
}

type transitionRequestBody struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func transitionOrderRequestHandler(machine *workflow.Machine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request id"})
			return
		}
		var body transitionRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			bindError(c, err)
			return
		}
		status := models.OrderRequestStatus(body.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + body.Status})
			return
		}

		request, result, err := machine.TransitionRequest(c.Request.Context(), id, status, body.Note)
		if err != nil {
			transitionErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order_request":  request,
			"reconciliation": reconcileBody(result),
		})
	}
}

func transitionClientOrderHandler(machine *workflow.Machine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client order id"})
			return
		}
		var body transitionRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			bindError(c, err)
			return
		}
		status := models.ClientOrderStatus(body.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + body.Status})
			return
		}

		order, result, err := machine.TransitionOrder(c.Request.Context(), id, status, body.Note)
		if err != nil {
			transitionErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"client_order":   order,
			"reconciliation": reconcileBody(result),
		})
	}
}

func getClientOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client order id"})
			return
		}
		order, err := models.GetClientOrder(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "client order not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"client_order": order})
	}
}

func recordPaymentHandler(machine *workflow.Machine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client order id"})
			return
		}
		var input models.NewPayment
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		order, result, err := machine.RecordPayment(c.Request.Context(), id, &input)
		if err != nil {
			transitionErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"client_order":   order,
			"reconciliation": reconcileBody(result),
		})
	}
}

func transitionErrorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, utils.ErrorLockNotObtained):
		c.JSON(http.StatusConflict, gin.H{"error": "another posting for this order is in progress"})
	case errors.Is(err, utils.ErrorConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent reconciliation conflict; retry"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

type availabilityCheckRequest struct {
	Items []models.NewOrderLineItem `json:"items" binding:"required,dive"`
}

func availabilityCheckHandler(logger *logrus.Logger) gin.HandlerFunc {
	stores := workflow.GormStores{}
	return func(c *gin.Context) {
		var req availabilityCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		items := models.BuildLineItems(req.Items)
		result, err := workflow.CheckOrderAvailability(c.Request.Context(), stores, stores, items)
		if err != nil {
			config.LogError(logger, "server.go", "availabilityCheckHandler", "availability check", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "availability check failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"availability": availabilityBody(result)})
	}
}

func productBOMHandler() gin.HandlerFunc {
	stores := workflow.GormStores{}
	return func(c *gin.Context) {
		productId, err := strconv.Atoi(c.Param("id"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		quantity := decimal.NewFromInt(1)
		if raw := c.Query("quantity"); raw != "" {
			quantity, err = utils.ParseDecimal(raw)
			if err != nil || !quantity.IsPositive() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive number"})
				return
			}
		}

		requirements, err := workflow.ResolveBOM(c.Request.Context(), stores, stores, productId, quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requirements": requirements})
	}
}

func getMaterialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid material id"})
			return
		}
		material, err := models.GetMaterial(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"material": material})
	}
}

func listMaterialsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		materials, err := models.GetMaterials(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list materials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"materials": materials})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-user-id", "x-user-name")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(actorMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	machine := newMachine(logger)
	coordinator := newSessionCoordinator(logger)

	r.POST("/order-requests", createOrderRequestHandler(logger, coordinator))
	r.GET("/order-requests/:id", getOrderRequestHandler())
	r.PUT("/order-requests/:id/items", replaceOrderRequestItemsHandler(logger, coordinator))
	r.POST("/order-requests/:id/status", transitionOrderRequestHandler(machine))

	r.GET("/client-orders/:id", getClientOrderHandler())
	r.POST("/client-orders/:id/status", transitionClientOrderHandler(machine))
	r.POST("/client-orders/:id/payments", recordPaymentHandler(machine))

	registry := newSessionRegistry()
	r.POST("/order-requests/:id/edit-session", beginEditSessionHandler(registry, coordinator))
	r.PUT("/edit-sessions/:sid/lines/:key", editSessionLineHandler(registry, coordinator))
	r.DELETE("/edit-sessions/:sid/lines/:key", deleteSessionLineHandler(registry, coordinator))
	r.POST("/edit-sessions/:sid/submit", submitEditSessionHandler(registry, coordinator))
	r.DELETE("/edit-sessions/:sid", abandonEditSessionHandler(registry))

	r.POST("/availability/check", availabilityCheckHandler(logger))
	r.GET("/products/:id/bom", productBOMHandler())
	r.GET("/materials", listMaterialsHandler())
	r.GET("/materials/:id", getMaterialHandler())
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/gateway"
	"github.com/kromer-go/kromer/internal/metrics"
	"github.com/kromer-go/kromer/internal/money"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/tokencache"
	"github.com/kromer-go/kromer/internal/transactions"
	"github.com/kromer-go/kromer/internal/validation"
	"github.com/kromer-go/kromer/internal/wsproto"
)

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	r := s.router

	r.GET("/health", s.healthHandler)
	r.GET("/health/live", s.livenessHandler)
	r.GET("/health/ready", s.readinessHandler)
	r.GET("/metrics", metrics.Handler())

	r.POST("/ws/start", s.wsStartHandler)
	r.GET("/ws/gateway/:token", s.wsGatewayHandler)

	addresses := r.Group("/addresses")
	{
		addresses.GET("", s.listAddressesHandler)
		addresses.GET("/rich", s.richAddressesHandler)
		addresses.GET("/:address", validation.AddressParamMiddleware(), s.getAddressHandler)
		addresses.GET("/:address/transactions", validation.AddressParamMiddleware(), s.addressTransactionsHandler)
		addresses.GET("/:address/names", validation.AddressParamMiddleware(), s.addressNamesHandler)
	}

	namesGroup := r.Group("/names")
	{
		namesGroup.GET("", s.listNamesHandler)
		namesGroup.GET("/check/:name", s.checkNameHandler)
		namesGroup.GET("/cost", cacheControl(300), s.nameCostHandler)
		namesGroup.POST("/new", s.registerNameHandler)
		namesGroup.GET("/:name", s.getNameHandler)
		namesGroup.POST("/:name", s.transferNameHandler)
	}

	txns := r.Group("/transactions")
	{
		txns.GET("", s.listTransactionsHandler)
		txns.GET("/latest", s.latestTransactionsHandler)
		txns.GET("/:id", s.getTransactionHandler)
	}

	admin := r.Group("/admin", s.adminMiddleware())
	{
		admin.POST("/addresses/:address/credit", validation.AddressParamMiddleware(), s.creditAddressHandler)
		admin.POST("/addresses/:address/lock", validation.AddressParamMiddleware(), s.lockAddressHandler)
		admin.POST("/addresses/:address/unlock", validation.AddressParamMiddleware(), s.unlockAddressHandler)
	}
}

// -----------------------------------------------------------------------------
// Gateway handshake (C11)
// -----------------------------------------------------------------------------

type wsStartRequest struct {
	PrivateKey string `json:"privatekey"`
}

func (s *Server) wsStartHandler(c *gin.Context) {
	var req wsStartRequest
	// A missing or empty body is a guest request, not a parse error.
	_ = c.ShouldBindJSON(&req)

	params := tokencache.Params{}
	if req.PrivateKey != "" {
		account, err := gateway.Authenticate(c.Request.Context(), s.accounts, req.PrivateKey)
		if err != nil {
			if errors.Is(err, gateway.ErrAuthFailed) {
				c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "auth_failed"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
			return
		}
		_ = account
		params.PrivateKey = req.PrivateKey
	}

	token, err := s.tokenCache.Mint(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	metrics.TokensMintedTotal.Inc()

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"url":     s.cfg.PublicURL + "/ws/gateway/" + token,
		"expires": 30,
	})
}

func (s *Server) wsGatewayHandler(c *gin.Context) {
	token := c.Param("token")
	params, err := s.tokenCache.Consume(token)
	if err != nil {
		metrics.TokensExpiredTotal.Inc()
		if err := s.gw.RejectInvalidToken(c.Writer, c.Request); err != nil {
			s.logger.Warn("gateway: failed to reject invalid token", "error", err)
		}
		return
	}

	if err := s.gw.Serve(c.Writer, c.Request, params); err != nil {
		s.logger.Warn("gateway: failed to upgrade connection", "error", err)
	}
}

// -----------------------------------------------------------------------------
// Pagination
// -----------------------------------------------------------------------------

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// -----------------------------------------------------------------------------
// Addresses
// -----------------------------------------------------------------------------

func (s *Server) listAddressesHandler(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := s.accounts.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "total": total, "count": len(list), "addresses": viewAddresses(list)})
}

func (s *Server) richAddressesHandler(c *gin.Context) {
	limit, offset := pagination(c)

	_, total, err := s.accounts.List(c.Request.Context(), 1, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	all, _, err := s.accounts.List(c.Request.Context(), total, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Balance > all[j].Balance })

	end := offset + limit
	if offset > len(all) {
		offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]

	c.JSON(http.StatusOK, gin.H{"ok": true, "total": total, "count": len(page), "addresses": viewAddresses(page)})
}

func (s *Server) getAddressHandler(c *gin.Context) {
	addr, err := s.accounts.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "address": wsproto.NewAddressView(addr)})
}

func (s *Server) addressTransactionsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := s.transactions.ListByAddress(c.Request.Context(), c.Param("address"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "total": total, "count": len(list), "transactions": viewTransactions(list)})
}

func (s *Server) addressNamesHandler(c *gin.Context) {
	list, err := s.names.ListByOwner(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(list), "names": viewNames(list)})
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

type creditRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) creditAddressHandler(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_parameter", "message": "amount must be a positive integer"})
		return
	}

	addr := c.Param("address")
	if _, err := s.accounts.GetOrCreate(c.Request.Context(), addr); err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.accounts.Credit(c.Request.Context(), addr, req.Amount); err != nil {
		writeStoreError(c, err)
		return
	}

	account, err := s.accounts.Get(c.Request.Context(), addr)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "address": wsproto.NewAddressView(account)})
}

func (s *Server) lockAddressHandler(c *gin.Context) {
	s.setLocked(c, true)
}

func (s *Server) unlockAddressHandler(c *gin.Context) {
	s.setLocked(c, false)
}

func (s *Server) setLocked(c *gin.Context, locked bool) {
	addr := c.Param("address")
	if err := s.accounts.SetLocked(c.Request.Context(), addr, locked); err != nil {
		writeStoreError(c, err)
		return
	}
	account, err := s.accounts.Get(c.Request.Context(), addr)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "address": wsproto.NewAddressView(account)})
}

// -----------------------------------------------------------------------------
// Names
// -----------------------------------------------------------------------------

func (s *Server) listNamesHandler(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := s.names.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "total": total, "count": len(list), "names": viewNames(list)})
}

func (s *Server) checkNameHandler(c *gin.Context) {
	name := c.Param("name")
	_, err := s.names.Get(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "available": false})
	case errors.Is(err, names.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"ok": true, "available": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
	}
}

func (s *Server) nameCostHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "name_cost": s.cfg.NameCost})
}

type registerNameRequest struct {
	PrivateKey string `json:"privatekey"`
	Name       string `json:"name"`
}

func (s *Server) registerNameHandler(c *gin.Context) {
	var req registerNameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PrivateKey == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing_parameter"})
		return
	}

	account, err := gateway.Authenticate(c.Request.Context(), s.accounts, req.PrivateKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "auth_failed"})
		return
	}

	n, err := s.money.RegisterName(c.Request.Context(), account.Address, req.Name)
	if err != nil {
		writeMoneyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": wsproto.NewNameView(n)})
}

func (s *Server) getNameHandler(c *gin.Context) {
	n, err := s.names.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": wsproto.NewNameView(n)})
}

type transferNameRequest struct {
	PrivateKey string `json:"privatekey"`
	Address    string `json:"address"`
}

func (s *Server) transferNameHandler(c *gin.Context) {
	var req transferNameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PrivateKey == "" || req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing_parameter"})
		return
	}

	account, err := gateway.Authenticate(c.Request.Context(), s.accounts, req.PrivateKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "auth_failed"})
		return
	}

	n, err := s.money.TransferName(c.Request.Context(), account.Address, c.Param("name"), req.Address)
	if err != nil {
		writeMoneyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": wsproto.NewNameView(n)})
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (s *Server) listTransactionsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := s.transactions.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "total": total, "count": len(list), "transactions": viewTransactions(list)})
}

func (s *Server) latestTransactionsHandler(c *gin.Context) {
	limit, _ := pagination(c)
	list, err := s.transactions.ListLatest(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(list), "transactions": viewTransactions(list)})
}

func (s *Server) getTransactionHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_parameter", "message": "id must be an integer"})
		return
	}
	t, err := s.transactions.Get(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "transaction": wsproto.NewTransactionView(t)})
}

// -----------------------------------------------------------------------------
// View helpers
// -----------------------------------------------------------------------------

func viewAddresses(list []*accounts.Address) []wsproto.AddressView {
	out := make([]wsproto.AddressView, len(list))
	for i, a := range list {
		out[i] = wsproto.NewAddressView(a)
	}
	return out
}

func viewNames(list []*names.Name) []wsproto.NameView {
	out := make([]wsproto.NameView, len(list))
	for i, n := range list {
		out[i] = wsproto.NewNameView(n)
	}
	return out
}

func viewTransactions(list []*transactions.Transaction) []wsproto.TransactionView {
	out := make([]wsproto.TransactionView, len(list))
	for i, t := range list {
		out[i] = wsproto.NewTransactionView(t)
	}
	return out
}

// -----------------------------------------------------------------------------
// Error mapping
// -----------------------------------------------------------------------------

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "address_not_found"})
	case errors.Is(err, names.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "name_not_found"})
	case errors.Is(err, transactions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "transaction_not_found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
	}
}

func writeMoneyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrLocked):
		c.JSON(http.StatusLocked, gin.H{"ok": false, "error": "transactions_disabled", "message": "address is locked"})
	case errors.Is(err, accounts.ErrInsufficientFunds):
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "insufficient_funds"})
	case errors.Is(err, accounts.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "insufficient_balance"})
	case errors.Is(err, transactions.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "transaction_conflict"})
	case errors.Is(err, names.ErrTaken):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "name_taken"})
	case errors.Is(err, names.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "not_name_owner"})
	case errors.Is(err, names.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "name_not_found"})
	case errors.Is(err, names.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_parameter"})
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrSameAddress), errors.Is(err, money.ErrMetadataTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_parameter"})
	case errors.Is(err, accounts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "address_not_found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "database_error"})
	}
}

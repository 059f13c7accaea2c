package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
)

type registerStatusRequest struct {
	Status domain.RegisterStatus `json:"status" validate:"required,oneof=ACTIVE INACTIVE MAINTENANCE"`
}

type paymentMethodStatusRequest struct {
	Status domain.PaymentMethodStatus `json:"status" validate:"required,oneof=ACTIVE INACTIVE"`
}

// Cash leaving the drawer outside a sale needs a manager.
func requiresManagerPIN(t domain.OperationType) bool {
	switch t {
	case domain.OperationReturn, domain.OperationReturnWithoutReceipt, domain.OperationWithdrawal:
		return true
	}
	return false
}

func (a *API) handleShifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	from, to, err := parseTimeRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	shifts, err := a.service.ListShifts(r.Context(), domain.ShiftFilter{
		RegisterID: q.Get("register_id"),
		CashierID:  q.Get("cashier_id"),
		Status:     domain.ShiftStatus(strings.ToUpper(q.Get("status"))),
		From:       from,
		To:         to,
		Limit:      parsePositiveLimit(q.Get("limit"), 50, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shifts": shifts})
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftOpenRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftCloseRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftInterruptRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.InterruptShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	registerID := strings.TrimSpace(r.URL.Query().Get("register_id"))
	if registerID == "" {
		writeError(w, http.StatusBadRequest, errors.New("register_id required"))
		return
	}
	shift, err := a.service.GetActiveShift(r.Context(), registerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// handleShiftActions serves /api/v1/shifts/{id} and /api/v1/shifts/{id}/summary.
func (a *API) handleShiftActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	parts := pathParts(r.URL.Path, "/api/v1/shifts/")
	switch {
	case len(parts) == 1:
		shift, err := a.service.GetShift(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, shift)
	case len(parts) == 2 && parts[1] == "summary":
		var opts domain.SummaryOptions
		if raw := strings.TrimSpace(r.URL.Query().Get("include_opening_deposit")); raw != "" {
			include, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("include_opening_deposit must be a boolean"))
				return
			}
			opts.IncludeOpeningDeposit = &include
		}
		summary, err := a.service.ShiftSummary(r.Context(), parts[0], opts)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown shift action"))
	}
}

func (a *API) handleRegisterActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	parts := pathParts(r.URL.Path, "/api/v1/registers/")
	if len(parts) != 2 || parts[1] != "status" {
		writeError(w, http.StatusNotFound, errors.New("unknown register action"))
		return
	}

	var req registerStatusRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reg, err := a.service.SetRegisterStatus(r.Context(), parts[0], req.Status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (a *API) handleCashOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		from, to, err := parseTimeRange(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		filter := domain.CashOperationFilter{
			ShiftID:    q.Get("shift_id"),
			RegisterID: q.Get("register_id"),
			From:       from,
			To:         to,
			Limit:      parsePositiveLimit(q.Get("limit"), 100, 1000),
		}
		for _, t := range splitList(q["type"]) {
			filter.Types = append(filter.Types, domain.OperationType(strings.ToUpper(t)))
		}
		for _, k := range splitList(q["payment_method"]) {
			filter.PaymentMethods = append(filter.PaymentMethods, domain.PaymentKind(strings.ToUpper(k)))
		}
		ops, err := a.service.ListCashOperations(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
	case http.MethodPost:
		var req domain.CashOperationRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if requiresManagerPIN(req.Type) && !a.checkManagerPIN(w, r, req.ManagerPIN) {
			return
		}
		op, err := a.service.RecordCashOperation(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"operation": op})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		methods, err := a.service.ListPaymentMethods(r.Context(), r.URL.Query().Get("register_id"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payment_methods": methods})
	case http.MethodPost:
		actor, _ := service.ActorFromContext(r.Context())
		if !isRoleAllowed(actor.Role, []string{RoleManager, RoleAdmin}) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		var req domain.PaymentMethodCreateRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pm, err := a.service.CreatePaymentMethod(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"payment_method": pm})
	default:
		writeMethodNotAllowed(w)
	}
}

// handlePaymentMethodActions serves /api/v1/payment-methods/{id}[/action].
func (a *API) handlePaymentMethodActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/v1/payment-methods/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusNotFound, errors.New("unknown payment method action"))
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		pm, err := a.service.GetPaymentMethod(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pm)
		return
	}

	switch parts[1] {
	case "deposit", "withdraw":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.PaymentAmountRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var (
			entry domain.PaymentMethodTransaction
			err   error
		)
		if parts[1] == "withdraw" {
			if !a.checkManagerPIN(w, r, req.ManagerPIN) {
				return
			}
			entry, err = a.service.Withdraw(r.Context(), id, req)
		} else {
			entry, err = a.service.Deposit(r.Context(), id, req)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
	case "debt":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.DebtPaymentRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.service.RecordDebtPayment(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
	case "status":
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var req paymentMethodStatusRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pm, err := a.service.SetPaymentMethodStatus(r.Context(), id, req.Status)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pm)
	case "transactions":
		a.handlePaymentTransactions(w, r, id)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown payment method action"))
	}
}

func (a *API) handlePaymentTransactions(w http.ResponseWriter, r *http.Request, paymentMethodID string) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		from, to, err := parseTimeRange(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		filter := domain.PaymentTxFilter{
			From:  from,
			To:    to,
			Limit: parsePositiveLimit(q.Get("limit"), 100, 1000),
		}
		for _, t := range splitList(q["type"]) {
			filter.Types = append(filter.Types, domain.PaymentTransactionType(strings.ToUpper(t)))
		}
		entries, err := a.service.ListPaymentTransactions(r.Context(), paymentMethodID, filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
	case http.MethodPost:
		var req domain.PaymentPostRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.PaymentMethodID = paymentMethodID
		entry, err := a.service.PostPaymentTransaction(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		from, to, err := parseTimeRange(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		filter := domain.InventoryFilter{
			WarehouseProductID: q.Get("warehouse_product_id"),
			WarehouseID:        q.Get("warehouse_id"),
			PurchaseID:         q.Get("purchase_id"),
			From:               from,
			To:                 to,
			Limit:              parsePositiveLimit(q.Get("limit"), 100, 1000),
		}
		for _, t := range splitList(q["type"]) {
			filter.Types = append(filter.Types, domain.InventoryTransactionType(strings.ToUpper(t)))
		}
		entries, err := a.service.ListInventoryTransactions(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
	case http.MethodPost:
		var req domain.InventoryRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.service.RecordInventoryTransaction(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.InventoryAdjustRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.Adjust(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
}

// handleProductActions serves /api/v1/inventory/products/{id} and its
// price-history.
func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	parts := pathParts(r.URL.Path, "/api/v1/inventory/products/")
	switch {
	case len(parts) == 1:
		product, err := a.service.GetWarehouseProduct(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case len(parts) == 2 && parts[1] == "price-history":
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		history, err := a.service.ListPriceHistory(r.Context(), parts[0], limit)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown product action"))
	}
}

func (a *API) handlePurchases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		includeInactive, _ := strconv.ParseBool(q.Get("include_inactive"))
		purchases, err := a.service.ListPurchases(r.Context(), q.Get("warehouse_id"), includeInactive, parsePositiveLimit(q.Get("limit"), 50, 500))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	case http.MethodPost:
		var req domain.PurchaseRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		purchase, err := a.service.CreatePurchase(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/v1/purchases/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		purchase, err := a.service.GetPurchase(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, purchase)
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		purchase, err := a.service.DeactivatePurchase(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, purchase)
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "deactivate"):
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown purchase action"))
	}
}

func (a *API) handleCashierDailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	cashierID := strings.TrimSpace(r.URL.Query().Get("cashier_id"))
	if cashierID == "" {
		cashierID = actor.Username
	}
	if actor.Role == RoleCashier && cashierID != actor.Username {
		writeError(w, http.StatusForbidden, errors.New("cashiers may only read their own stats"))
		return
	}

	stats, err := a.service.CashierDailyStats(r.Context(), cashierID, r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

package lifecycle

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/pos/pkg/enums/tender"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/order"
	"github.com/appetiteclub/pos/services/order/internal/selection"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger apt.Logger
	tlm    *telemetry.HTTP
	engine *Engine
	views  *OrderViewCache
}

func NewHandler(engine *Engine, views *OrderViewCache, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		logger: logger,
		tlm:    telemetry.NewHTTP(),
		engine: engine,
		views:  views,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Post("/merge", h.MergeOrders)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.AbandonOrder)

		r.Post("/{id}/items", h.AddItem)
		r.Put("/{id}/items/{itemID}", h.EditItem)
		r.Delete("/{id}/items/{itemID}", h.RemoveItem)
		r.Post("/{id}/items/{itemID}/options", h.AddOption)

		r.Get("/{id}/selection", h.GetSelection)
		r.Post("/{id}/selection/toggle", h.ToggleSelection)

		r.Post("/{id}/send", h.Send)
		r.Post("/{id}/resend", h.Resend)
		r.Post("/{id}/checkout", h.Checkout)
		r.Post("/{id}/unbill", h.Unbill)
		r.Post("/{id}/bills/{billID}/print", h.PrintCheck)
		r.Post("/{id}/bills/{billID}/pay", h.Pay)
		r.Post("/{id}/transactions/{txID}/void", h.VoidTransaction)
		r.Post("/{id}/void", h.VoidItems)
		r.Post("/{id}/void-order", h.VoidOrder)
		r.Post("/{id}/move", h.MoveOrder)
		r.Post("/{id}/combine", h.CombineOrder)
		r.Post("/{id}/close", h.CloseOrder)
	})

	r.Post("/tables/{tableID}/resolve", h.ResolveTableOrder)

	r.Route("/locks", func(r chi.Router) {
		r.Get("/", h.ListLocks)
		r.Delete("/{id}", h.ClearLock)
	})
}

// Prompt answers travel with the request that needs them.
type PromptAnswers struct {
	Reason     string     `json:"reason,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
}

func (a PromptAnswers) prompter() Prompter {
	return requestPrompter{reason: a.Reason, approvedBy: a.ApprovedBy, orderID: a.OrderID}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()

	log := h.log(r)

	req, ok := decodePayload[NewOrderRequest](w, r, log)
	if !ok {
		return
	}
	if req.StoreID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "store_id is required")
		return
	}

	o, err := h.engine.NewOrder(r.Context(), req)
	if err != nil {
		h.respondError(w, log, err, "create order")
		return
	}

	links := apt.RESTfulLinksFor(o)
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, o, links...)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.Reload(r.Context(), id)
	if err != nil {
		h.respondError(w, log, err, "load order")
		return
	}
	links := apt.RESTfulLinksFor(o)
	apt.RespondSuccess(w, h.views.View(o), links...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)

	var tableID *uuid.UUID
	if raw := r.URL.Query().Get("table_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Debug("invalid table_id parameter", "table_id", raw)
			apt.RespondError(w, http.StatusBadRequest, "Invalid table_id parameter")
			return
		}
		tableID = &id
	}

	orders, err := h.engine.List(r.Context(), tableID)
	if err != nil {
		log.Error("error retrieving orders", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve orders")
		return
	}

	apt.RespondCollection(w, h.views.Views(orders), "order")
}

type ResolveRequest struct {
	PromptAnswers
}

// ResolveTableOrder picks the open order of a table. Several candidates
// without an order_id answer 300 with the candidates to choose from.
func (h *Handler) ResolveTableOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ResolveTableOrder")
	defer finish()

	log := h.log(r)

	tableID, ok := h.parseUUIDParam(w, r, log, "tableID")
	if !ok {
		return
	}
	req, ok := decodePayload[ResolveRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.ResolveTableOrder(r.Context(), tableID, req.prompter())
	if errors.Is(err, selection.ErrAmbiguous) {
		var candidates []*order.Order
		if h.views != nil {
			candidates = h.views.ByTable(tableID)
		}
		if len(candidates) == 0 {
			all, listErr := h.engine.List(r.Context(), &tableID)
			if listErr == nil {
				candidates = selection.Open(all)
			}
		}
		apt.Respond(w, http.StatusMultipleChoices, map[string]interface{}{
			"message":    err.Error(),
			"candidates": h.views.Views(candidates),
		}, nil)
		return
	}
	if err != nil {
		h.respondError(w, log, err, "resolve table order")
		return
	}
	if o == nil {
		apt.RespondError(w, http.StatusNotFound, "Table has no open order")
		return
	}
	h.respondOrder(w, o)
}

type AddItemRequest struct {
	MenuItemID uuid.UUID       `json:"menu_item_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Count      int             `json:"count"`
	Notes      string          `json:"notes,omitempty"`
	Togo       bool            `json:"togo,omitempty"`
	Hold       bool            `json:"hold,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AddItem")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[AddItemRequest](w, r, log)
	if !ok {
		return
	}
	if req.Name == "" {
		apt.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	item := order.NewOrderItem(req.MenuItemID, req.Name, req.UnitPrice, req.Count)
	item.Notes = req.Notes
	item.Togo = req.Togo
	item.Hold = req.Hold
	item.CreatedBy = req.CreatedBy

	o, added, err := h.engine.AddItem(r.Context(), id, item)
	if err != nil {
		h.respondError(w, log, err, "add item")
		return
	}
	if o == nil {
		h.respondUnchanged(w, r, id, log)
		return
	}

	log.Info("item added", "order_id", id.String(), "item_id", added.ID.String())
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, map[string]interface{}{"order": o, "item": added})
}

type EditItemRequest struct {
	order.ItemEdit
	PromptAnswers
}

func (h *Handler) EditItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.EditItem")
	defer finish()

	log := h.log(r)

	id, itemID, ok := h.parseItemParams(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[EditItemRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.EditItem(r.Context(), id, itemID, req.ItemEdit, req.prompter())
	h.respondResult(w, r, id, o, err, log, "edit item")
}

type AddOptionRequest struct {
	Modifier order.OrderModifier  `json:"modifier"`
	Option   order.ModifierOption `json:"option"`
	PromptAnswers
}

func (h *Handler) AddOption(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AddOption")
	defer finish()

	log := h.log(r)

	id, itemID, ok := h.parseItemParams(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[AddOptionRequest](w, r, log)
	if !ok {
		return
	}
	if req.Modifier.ModifierID == uuid.Nil || req.Option.OptionID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "modifier and option ids are required")
		return
	}

	o, err := h.engine.AddOption(r.Context(), id, itemID, req.Modifier, req.Option, req.prompter())
	h.respondResult(w, r, id, o, err, log, "add option")
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RemoveItem")
	defer finish()

	log := h.log(r)

	id, itemID, ok := h.parseItemParams(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[PromptAnswers](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.Remove(r.Context(), id, itemID, req.prompter())
	h.respondResult(w, r, id, o, err, log, "remove item")
}

func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetSelection")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	filter, err := selection.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := h.engine.ApplyFilter(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, log, err, "apply filter")
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	apt.RespondSuccess(w, map[string]interface{}{"filter": filter, "item_ids": ids})
}

type ToggleRequest struct {
	Field   ToggleField      `json:"field"`
	Filter  selection.Filter `json:"filter,omitempty"`
	ItemIDs []uuid.UUID      `json:"item_ids,omitempty"`
}

func (h *Handler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ToggleSelection")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[ToggleRequest](w, r, log)
	if !ok {
		return
	}
	if req.Field != ToggleTogo && req.Field != ToggleHold {
		apt.RespondError(w, http.StatusBadRequest, "field must be togo or hold")
		return
	}
	filter, err := selection.ParseFilter(string(req.Filter))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.engine.Toggle(r.Context(), id, req.Field, filter, req.ItemIDs)
	h.respondResult(w, r, id, o, err, log, "toggle selection")
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Send")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	withPrint := true
	if raw := r.URL.Query().Get("print"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			apt.RespondError(w, http.StatusBadRequest, "Invalid print parameter")
			return
		}
		withPrint = parsed
	}

	o, sent, err := h.engine.Send(r.Context(), id, withPrint)
	if err != nil {
		h.respondError(w, log, err, "send order")
		return
	}
	if o == nil {
		h.respondUnchanged(w, r, id, log)
		return
	}

	log.Info("order sent", "order_id", id.String(), "items", len(sent), "print", withPrint)
	h.respondOrder(w, o)
}

type ResendRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids"`
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Resend")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[ResendRequest](w, r, log)
	if !ok {
		return
	}

	printed, err := h.engine.Resend(r.Context(), id, req.ItemIDs)
	if err != nil {
		h.respondError(w, log, err, "resend items")
		return
	}

	ids := make([]uuid.UUID, 0, len(printed))
	for _, item := range printed {
		ids = append(ids, item.ID)
	}
	apt.RespondSuccess(w, map[string]interface{}{"printed": ids})
}

type CheckoutRequest struct {
	Name string `json:"name,omitempty"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Checkout")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[CheckoutRequest](w, r, log)
	if !ok {
		return
	}

	o, bill, err := h.engine.Checkout(r.Context(), id, req.Name)
	if err != nil {
		h.respondError(w, log, err, "checkout")
		return
	}
	if o == nil {
		h.respondUnchanged(w, r, id, log)
		return
	}

	log.Info("order checked out", "order_id", id.String(), "bill_id", bill.ID.String())
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, map[string]interface{}{"order": o, "bill": bill})
}

type UnbillRequest struct {
	ItemID *uuid.UUID `json:"item_id,omitempty"`
}

func (h *Handler) Unbill(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Unbill")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[UnbillRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.Unbill(r.Context(), id, req.ItemID)
	h.respondResult(w, r, id, o, err, log, "unbill")
}

func (h *Handler) PrintCheck(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PrintCheck")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	billID, ok := h.parseUUIDParam(w, r, log, "billID")
	if !ok {
		return
	}

	o, err := h.engine.PrintCheck(r.Context(), id, billID)
	h.respondResult(w, r, id, o, err, log, "print check")
}

type PayRequest struct {
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Tip        decimal.Decimal `json:"tip"`
	Approval   string          `json:"approval,omitempty"`
	EmployeeID string          `json:"employee_id"`
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Pay")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	billID, ok := h.parseUUIDParam(w, r, log, "billID")
	if !ok {
		return
	}
	req, ok := decodePayload[PayRequest](w, r, log)
	if !ok {
		return
	}
	if tender.ByName(req.Type) == nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid payment type")
		return
	}

	o, tx, err := h.engine.Pay(r.Context(), id, billID, order.Payment{
		Type:       req.Type,
		Amount:     req.Amount,
		Tip:        req.Tip,
		Approval:   req.Approval,
		EmployeeID: req.EmployeeID,
	})
	if err != nil {
		h.respondError(w, log, err, "pay")
		return
	}
	if o == nil {
		h.respondUnchanged(w, r, id, log)
		return
	}

	log.Info("payment recorded", "order_id", id.String(), "bill_id", billID.String(), "transaction_id", tx.ID.String())
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, map[string]interface{}{"order": o, "transaction": tx})
}

func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidTransaction")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	txID, ok := h.parseUUIDParam(w, r, log, "txID")
	if !ok {
		return
	}
	req, ok := decodePayload[PromptAnswers](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.VoidTransaction(r.Context(), id, txID, req.prompter())
	h.respondResult(w, r, id, o, err, log, "void transaction")
}

type VoidItemsRequest struct {
	ItemIDs []uuid.UUID      `json:"item_ids,omitempty"`
	Filter  selection.Filter `json:"filter,omitempty"`
	PromptAnswers
}

func (h *Handler) VoidItems(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidItems")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[VoidItemsRequest](w, r, log)
	if !ok {
		return
	}

	ids := req.ItemIDs
	if len(ids) == 0 {
		filter, err := selection.ParseFilter(string(req.Filter))
		if err != nil {
			apt.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ids, err = h.engine.ApplyFilter(r.Context(), id, filter); err != nil {
			h.respondError(w, log, err, "apply filter")
			return
		}
	}
	if len(ids) == 0 {
		apt.RespondError(w, http.StatusBadRequest, "No items selected")
		return
	}

	o, err := h.engine.VoidItems(r.Context(), id, ids, req.prompter())
	h.respondResult(w, r, id, o, err, log, "void items")
}

func (h *Handler) VoidOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[PromptAnswers](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.VoidOrder(r.Context(), id, req.prompter())
	h.respondResult(w, r, id, o, err, log, "void order")
}

type MoveRequest struct {
	AreaID  uuid.UUID  `json:"area_id"`
	TableID *uuid.UUID `json:"table_id,omitempty"`
}

func (h *Handler) MoveOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MoveOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[MoveRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.MoveTo(r.Context(), id, req.AreaID, req.TableID)
	h.respondResult(w, r, id, o, err, log, "move order")
}

type CombineRequest struct {
	TargetID uuid.UUID `json:"target_id"`
}

func (h *Handler) CombineOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CombineOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[CombineRequest](w, r, log)
	if !ok {
		return
	}
	if req.TargetID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	o, err := h.engine.CombineWith(r.Context(), id, req.TargetID)
	h.respondResult(w, r, req.TargetID, o, err, log, "combine orders")
}

type MergeRequest struct {
	OrderIDs []uuid.UUID `json:"order_ids"`
}

func (h *Handler) MergeOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MergeOrders")
	defer finish()

	log := h.log(r)

	req, ok := decodePayload[MergeRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.Merge(r.Context(), req.OrderIDs)
	if err != nil {
		h.respondError(w, log, err, "merge orders")
		return
	}
	if o == nil {
		apt.RespondError(w, http.StatusUnprocessableEntity, "Orders cannot be merged")
		return
	}
	h.respondOrder(w, o)
}

type CloseRequest struct {
	EmployeeID string `json:"employee_id"`
}

func (h *Handler) CloseOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CloseOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	req, ok := decodePayload[CloseRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.engine.Close(r.Context(), id, req.EmployeeID)
	h.respondResult(w, r, id, o, err, log, "close order")
}

func (h *Handler) AbandonOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AbandonOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	deleted, err := h.engine.Abandon(r.Context(), id)
	if err != nil {
		h.respondError(w, log, err, "abandon order")
		return
	}
	if !deleted {
		apt.RespondError(w, http.StatusConflict, "Order has items or a number and cannot be abandoned")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListLocks")
	defer finish()

	log := h.log(r)

	claims, err := h.engine.Locks(r.Context())
	if err != nil {
		log.Error("cannot list locks", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve locks")
		return
	}
	apt.RespondCollection(w, claims, "lock")
}

func (h *Handler) ClearLock(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ClearLock")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	claim, err := h.engine.ClearLock(r.Context(), id)
	if err != nil {
		log.Error("cannot clear lock", "error", err, "order_id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not clear lock")
		return
	}
	if claim == nil {
		apt.RespondError(w, http.StatusNotFound, "Order is not locked")
		return
	}

	log.Info("lock cleared", "order_id", id.String(), "holder", claim.Holder)
	apt.RespondSuccess(w, claim)
}

// respondResult answers with the changed order, with the stored order when
// the action was a no-op, or with the mapped error.
func (h *Handler) respondResult(w http.ResponseWriter, r *http.Request, id uuid.UUID, o *order.Order, err error, log apt.Logger, action string) {
	if err != nil {
		h.respondError(w, log, err, action)
		return
	}
	if o == nil {
		h.respondUnchanged(w, r, id, log)
		return
	}
	h.respondOrder(w, o)
}

func (h *Handler) respondUnchanged(w http.ResponseWriter, r *http.Request, id uuid.UUID, log apt.Logger) {
	o, err := h.engine.Reload(r.Context(), id)
	if err != nil {
		h.respondError(w, log, err, "load order")
		return
	}
	h.respondOrder(w, o)
}

func (h *Handler) respondOrder(w http.ResponseWriter, o *order.Order) {
	links := apt.RESTfulLinksFor(o)
	apt.RespondSuccess(w, o, links...)
}

func (h *Handler) respondError(w http.ResponseWriter, log apt.Logger, err error, action string) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("cannot "+action, "error", err)
	} else {
		log.Debug("cannot "+action, "error", err)
	}
	apt.RespondError(w, status, message)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lock.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrStaleRevision), errors.Is(err, selection.ErrStaleBill):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, order.ErrPermissionRequired):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrCancelled):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, order.ErrItemNotFound),
		errors.Is(err, order.ErrBillNotFound), errors.Is(err, order.ErrTransactionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, order.ErrReasonRequired):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrInvalidAmount), errors.Is(err, order.ErrInvalidCount), errors.Is(err, ErrMergeTooFew):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrPersistence):
		return http.StatusInternalServerError, "Could not save order"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	return h.parseUUIDParam(w, r, log, "id")
}

func (h *Handler) parseItemParams(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, uuid.UUID, bool) {
	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	itemID, ok := h.parseUUIDParam(w, r, log, "itemID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return id, itemID, true
}

func (h *Handler) parseUUIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		log.Debug("missing parameter", "name", name)
		apt.RespondError(w, http.StatusBadRequest, "Missing "+name+" parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid parameter", "name", name, "value", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}

	return id, true
}

// decodePayload reads a JSON body into T. An empty body yields the zero T.
func decodePayload[T any](w http.ResponseWriter, r *http.Request, log apt.Logger) (T, bool) {
	var req T
	if r.Body == nil {
		return req, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return req, false
	}
	if len(body) == 0 {
		return req, true
	}

	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return req, false
	}

	return req, true
}

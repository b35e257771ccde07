package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/procurement"
)

type requestLineDTO struct {
	Description    string              `json:"description" validate:"required,max=500"`
	PartReference  string              `json:"part_reference" validate:"max=100"`
	Unit           string              `json:"unit" validate:"max=20"`
	Quantity       int                 `json:"quantity" validate:"gt=0"`
	SuggestedPrice decimal.NullDecimal `json:"suggested_price" validate:"omitempty,gte=0"`
}

type purchaseRequestDTO struct {
	Title    string           `json:"title" validate:"max=200"`
	Category string           `json:"category" validate:"required"`
	Priority string           `json:"priority"`
	Notes    string           `json:"notes" validate:"max=2000"`
	Lines    []requestLineDTO `json:"lines" validate:"required,min=1,dive"`
	Draft    bool             `json:"draft"`
}

func (d purchaseRequestDTO) toNewRequest() procurement.NewRequest {
	in := procurement.NewRequest{
		Title:    d.Title,
		Category: d.Category,
		Priority: d.Priority,
		Notes:    d.Notes,
		Draft:    d.Draft,
		Lines:    make([]procurement.NewLine, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		in.Lines = append(in.Lines, procurement.NewLine{
			Description:    l.Description,
			PartReference:  l.PartReference,
			Unit:           l.Unit,
			Quantity:       l.Quantity,
			SuggestedPrice: l.SuggestedPrice,
		})
	}
	return in
}

type approvalLineDTO struct {
	LineID   string              `json:"line_id" validate:"required"`
	Quantity int                 `json:"quantity" validate:"gt=0"`
	Price    decimal.NullDecimal `json:"price" validate:"omitempty,gte=0"`
}

type approveRequestDTO struct {
	Lines []approvalLineDTO `json:"lines" validate:"dive"`
}

type rejectRequestDTO struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type orderLineDTO struct {
	RequestLineID     string              `json:"request_line_id" validate:"required"`
	ValidatedQuantity int                 `json:"validated_quantity" validate:"gt=0"`
	QuotedPrice       decimal.NullDecimal `json:"quoted_price" validate:"omitempty,gte=0"`
	SupplierName      string              `json:"supplier_name" validate:"max=200"`
	Remark            string              `json:"remark" validate:"max=1000"`
}

type generateOrderDTO struct {
	Supplier string         `json:"supplier" validate:"max=200"`
	Lines    []orderLineDTO `json:"lines" validate:"dive"`
}

type orderLineUpdateDTO struct {
	ItemID            string           `json:"item_id" validate:"required"`
	SupplierName      *string          `json:"supplier_name"`
	QuotedPrice       *decimal.Decimal `json:"quoted_price"`
	ValidatedQuantity *int             `json:"validated_quantity"`
	Remark            *string          `json:"remark"`
}

type updateOrderLinesDTO struct {
	Lines []orderLineUpdateDTO `json:"lines" validate:"required,min=1,dive"`
}

func listLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("%w: limit must be between 1 and 1000", apperr.ErrValidation)
	}
	return n, nil
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	prs, err := a.deps.Engine.ListRequests(r.Context(), principal(r), procurement.RequestFilter{
		Status:   procurement.RequestStatus(strings.ToUpper(q.Get("status"))),
		VesselID: q.Get("vessel_id"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if prs == nil {
		prs = []procurement.PurchaseRequest{}
	}
	writeData(w, r, http.StatusOK, prs)
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pr, err := a.deps.Engine.CreateRequest(r.Context(), principal(r), req.toNewRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/purchase-requests/%s", pr.ID))
	writeData(w, r, http.StatusCreated, pr)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := a.deps.Engine.GetRequest(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pr)
}

func (a *API) updateDraft(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pr, err := a.deps.Engine.UpdateDraft(r.Context(), principal(r), vars(r, "id"), req.toNewRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pr)
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := a.deps.Engine.Submit(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pr)
}

func (a *API) approveRequest(w http.ResponseWriter, r *http.Request) {
	var req approveRequestDTO
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	approvals := make([]procurement.LineApproval, 0, len(req.Lines))
	for _, l := range req.Lines {
		approvals = append(approvals, procurement.LineApproval{LineID: l.LineID, Quantity: l.Quantity, Price: l.Price})
	}
	pr, err := a.deps.Engine.Approve(r.Context(), principal(r), vars(r, "id"), approvals)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pr)
}

func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request) {
	var req rejectRequestDTO
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pr, err := a.deps.Engine.Reject(r.Context(), principal(r), vars(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pr)
}

func (a *API) generateOrder(w http.ResponseWriter, r *http.Request) {
	var req generateOrderDTO
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lines := make([]procurement.OrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, procurement.OrderLine{
			RequestLineID:     l.RequestLineID,
			ValidatedQuantity: l.ValidatedQuantity,
			QuotedPrice:       l.QuotedPrice,
			SupplierName:      l.SupplierName,
			Remark:            l.Remark,
		})
	}
	po, err := a.deps.Engine.GenerateOrder(r.Context(), principal(r), vars(r, "id"), req.Supplier, lines)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/purchase-orders/%s", po.ID))
	writeData(w, r, http.StatusCreated, po)
}

func (a *API) orderForRequest(w http.ResponseWriter, r *http.Request) {
	po, err := a.deps.Engine.OrderForRequest(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, po)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	pos, err := a.deps.Engine.ListOrders(r.Context(), principal(r), procurement.OrderFilter{
		Status:   procurement.OrderStatus(strings.ToUpper(q.Get("status"))),
		VesselID: q.Get("vessel_id"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pos == nil {
		pos = []procurement.PurchaseOrder{}
	}
	writeData(w, r, http.StatusOK, pos)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	po, err := a.deps.Engine.GetOrder(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, po)
}

func (a *API) updateOrderLines(w http.ResponseWriter, r *http.Request) {
	var req updateOrderLinesDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updates := make([]procurement.OrderLineUpdate, 0, len(req.Lines))
	for _, l := range req.Lines {
		updates = append(updates, procurement.OrderLineUpdate{
			ItemID:            l.ItemID,
			SupplierName:      l.SupplierName,
			QuotedPrice:       l.QuotedPrice,
			ValidatedQuantity: l.ValidatedQuantity,
			Remark:            l.Remark,
		})
	}
	po, err := a.deps.Engine.UpdateOrderLines(r.Context(), principal(r), vars(r, "id"), updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, po)
}

func (a *API) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var (
		po  procurement.PurchaseOrder
		err error
	)
	ctx, actor, id := r.Context(), principal(r), vars(r, "id")
	switch vars(r, "action") {
	case "confirm":
		po, err = a.deps.Engine.ConfirmOrder(ctx, actor, id)
	case "receive":
		po, err = a.deps.Engine.ReceiveOrder(ctx, actor, id)
	case "cancel":
		po, err = a.deps.Engine.CancelOrder(ctx, actor, id)
	default:
		notFound(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, po)
}

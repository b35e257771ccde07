// Package procurement implements the purchase request / purchase order
// workflow: role and vessel-scope checks, line validation and the explicit
// state transition tables.
package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
	"fleetops.org/internal/obs"
)

// Engine applies workflow rules on top of a Store. The actor of every
// operation is the principal resolved from the session.
type Engine struct {
	store Store
	now   func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("procurement store is required")
	}
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateRequest raises a purchase request for the actor's own vessel.
func (e *Engine) CreateRequest(ctx context.Context, actor auth.Principal, in NewRequest) (PurchaseRequest, error) {
	if err := requireCrew(actor); err != nil {
		return PurchaseRequest{}, err
	}
	pr, err := buildRequest(in)
	if err != nil {
		return PurchaseRequest{}, err
	}
	pr.VesselID = actor.VesselID
	pr.CreatedBy = actor.UserID
	pr.Status = RequestDraft
	if !in.Draft {
		pr.Status = RequestSubmitted
	}
	created, err := e.store.CreateRequest(ctx, pr)
	if err != nil {
		return PurchaseRequest{}, err
	}
	e.requestEvent(ctx, "purchase_request.created", created, "", created.Status)
	return created, nil
}

// UpdateDraft replaces the content of a DRAFT request.
func (e *Engine) UpdateDraft(ctx context.Context, actor auth.Principal, id string, in NewRequest) (PurchaseRequest, error) {
	if err := requireCrew(actor); err != nil {
		return PurchaseRequest{}, err
	}
	next, err := buildRequest(in)
	if err != nil {
		return PurchaseRequest{}, err
	}
	return e.store.UpdateRequest(ctx, id, func(pr *PurchaseRequest) error {
		if err := checkVisible(actor, pr.VesselID); err != nil {
			return err
		}
		if !pr.Status.Editable() {
			return fmt.Errorf("%w: purchase request %s is %s and can no longer be edited", apperr.ErrConflict, pr.Reference, pr.Status)
		}
		pr.Title, pr.Category, pr.Priority, pr.Notes = next.Title, next.Category, next.Priority, next.Notes
		pr.Lines = next.Lines
		return nil
	})
}

// Submit moves a DRAFT request to SUBMITTED.
func (e *Engine) Submit(ctx context.Context, actor auth.Principal, id string) (PurchaseRequest, error) {
	if err := requireCrew(actor); err != nil {
		return PurchaseRequest{}, err
	}
	var from RequestStatus
	pr, err := e.store.UpdateRequest(ctx, id, func(pr *PurchaseRequest) error {
		if err := checkVisible(actor, pr.VesselID); err != nil {
			return err
		}
		to, err := NextRequestStatus(pr.Status, ActionSubmit)
		if err != nil {
			return err
		}
		from, pr.Status = pr.Status, to
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	e.requestEvent(ctx, "purchase_request.submitted", pr, from, pr.Status)
	return pr, nil
}

// GetRequest returns a request visible to actor.
func (e *Engine) GetRequest(ctx context.Context, actor auth.Principal, id string) (PurchaseRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return PurchaseRequest{}, fmt.Errorf("%w: purchase request id is required", apperr.ErrValidation)
	}
	pr, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if err := checkVisible(actor, pr.VesselID); err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// ListRequests lists requests; crew only ever see their own vessel.
func (e *Engine) ListRequests(ctx context.Context, actor auth.Principal, filter RequestFilter) ([]PurchaseRequest, error) {
	scoped, err := scopeVessel(actor, filter.VesselID)
	if err != nil {
		return nil, err
	}
	filter.VesselID = scoped
	if filter.Status != "" {
		filter.Status = RequestStatus(strings.ToUpper(string(filter.Status)))
	}
	return e.store.ListRequests(ctx, filter)
}

// Approve moves a SUBMITTED request to APPROVED, recording per-line decisions.
func (e *Engine) Approve(ctx context.Context, actor auth.Principal, id string, approvals []LineApproval) (PurchaseRequest, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseRequest{}, err
	}
	var from RequestStatus
	pr, err := e.store.UpdateRequest(ctx, id, func(pr *PurchaseRequest) error {
		to, err := NextRequestStatus(pr.Status, ActionApprove)
		if err != nil {
			return err
		}
		if err := applyApprovals(pr, approvals); err != nil {
			return err
		}
		now := e.now().UTC()
		from, pr.Status = pr.Status, to
		pr.DecidedBy, pr.DecidedAt = actor.UserID, &now
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	e.requestEvent(ctx, "purchase_request.approved", pr, from, pr.Status)
	return pr, nil
}

// Reject moves a SUBMITTED request to REJECTED. The reason is optional.
func (e *Engine) Reject(ctx context.Context, actor auth.Principal, id, reason string) (PurchaseRequest, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseRequest{}, err
	}
	var from RequestStatus
	pr, err := e.store.UpdateRequest(ctx, id, func(pr *PurchaseRequest) error {
		to, err := NextRequestStatus(pr.Status, ActionReject)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		from, pr.Status = pr.Status, to
		pr.DecidedBy, pr.DecidedAt = actor.UserID, &now
		pr.RejectionReason = strings.TrimSpace(reason)
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	e.requestEvent(ctx, "purchase_request.rejected", pr, from, pr.Status)
	return pr, nil
}

// GenerateOrder creates the single purchase order of an APPROVED request and
// marks the request ORDERED in the same store transaction. With no lines
// given, every request line is ordered using its approved (or requested)
// quantity and price.
func (e *Engine) GenerateOrder(ctx context.Context, actor auth.Principal, requestID, supplier string, lines []OrderLine) (PurchaseOrder, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseOrder{}, err
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase request id is required", apperr.ErrValidation)
	}
	var ref string
	po, err := e.store.CreateOrder(ctx, requestID, func(pr PurchaseRequest) (PurchaseOrder, error) {
		if _, err := NextRequestStatus(pr.Status, ActionOrder); err != nil {
			return PurchaseOrder{}, err
		}
		items, err := buildOrderItems(pr, lines)
		if err != nil {
			return PurchaseOrder{}, err
		}
		ref = pr.Reference
		return PurchaseOrder{
			CreatedBy: actor.UserID,
			Supplier:  strings.TrimSpace(supplier),
			Status:    OrderPending,
			Lines:     items,
		}, nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	obs.RecordTransition("purchase_request", string(RequestApproved), string(RequestOrdered))
	obs.RecordTransition("purchase_order", "", string(po.Status))
	_ = audit.LogEvent(ctx, "purchase_order.generated", map[string]any{
		"purchase_request":     requestID,
		"purchase_request_ref": ref,
		"purchase_order":       po.ID,
		"reference":            po.Reference,
		"lines":                len(po.Lines),
	})
	return po, nil
}

// GetOrder returns an order visible to actor.
func (e *Engine) GetOrder(ctx context.Context, actor auth.Principal, id string) (PurchaseOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order id is required", apperr.ErrValidation)
	}
	po, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := checkVisible(actor, po.VesselID); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// OrderForRequest returns the order generated from a request, if any.
func (e *Engine) OrderForRequest(ctx context.Context, actor auth.Principal, requestID string) (PurchaseOrder, error) {
	if _, err := e.GetRequest(ctx, actor, requestID); err != nil {
		return PurchaseOrder{}, err
	}
	return e.store.OrderForRequest(ctx, requestID)
}

func (e *Engine) ListOrders(ctx context.Context, actor auth.Principal, filter OrderFilter) ([]PurchaseOrder, error) {
	scoped, err := scopeVessel(actor, filter.VesselID)
	if err != nil {
		return nil, err
	}
	filter.VesselID = scoped
	if filter.Status != "" {
		filter.Status = OrderStatus(strings.ToUpper(string(filter.Status)))
	}
	return e.store.ListOrders(ctx, filter)
}

// UpdateOrderLines patches supplier, price, quantity and remark of PENDING order lines.
func (e *Engine) UpdateOrderLines(ctx context.Context, actor auth.Principal, id string, updates []OrderLineUpdate) (PurchaseOrder, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseOrder{}, err
	}
	if len(updates) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one line update is required", apperr.ErrValidation)
	}
	current, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	// request lines are immutable once ORDERED
	pr, err := e.store.GetRequest(ctx, current.RequestID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po, err := e.store.UpdateOrder(ctx, id, func(po *PurchaseOrder) error {
		if po.Status != OrderPending {
			return fmt.Errorf("%w: purchase order %s is %s; lines are frozen", apperr.ErrConflict, po.Reference, po.Status)
		}
		return applyOrderUpdates(po, pr, updates)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	_ = audit.LogEvent(ctx, "purchase_order.lines_updated", map[string]any{
		"purchase_order": po.ID,
		"reference":      po.Reference,
		"lines":          len(updates),
	})
	return po, nil
}

func (e *Engine) ConfirmOrder(ctx context.Context, actor auth.Principal, id string) (PurchaseOrder, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseOrder{}, err
	}
	return e.transitionOrder(ctx, actor, id, ActionConfirm)
}

func (e *Engine) CancelOrder(ctx context.Context, actor auth.Principal, id string) (PurchaseOrder, error) {
	if err := requireShore(actor); err != nil {
		return PurchaseOrder{}, err
	}
	return e.transitionOrder(ctx, actor, id, ActionCancel)
}

// ReceiveOrder is open to shore staff and to the crew of the ordering vessel.
func (e *Engine) ReceiveOrder(ctx context.Context, actor auth.Principal, id string) (PurchaseOrder, error) {
	if !actor.IsShore() && !actor.IsVessel() {
		return PurchaseOrder{}, fmt.Errorf("%w: role %q cannot receive orders", apperr.ErrForbidden, actor.Role)
	}
	return e.transitionOrder(ctx, actor, id, ActionReceive)
}

func (e *Engine) transitionOrder(ctx context.Context, actor auth.Principal, id string, action OrderAction) (PurchaseOrder, error) {
	var from OrderStatus
	po, err := e.store.UpdateOrder(ctx, id, func(po *PurchaseOrder) error {
		if err := checkVisible(actor, po.VesselID); err != nil {
			return err
		}
		to, err := NextOrderStatus(po.Status, action)
		if err != nil {
			return err
		}
		from, po.Status = po.Status, to
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	obs.RecordTransition("purchase_order", string(from), string(po.Status))
	_ = audit.LogEvent(ctx, "purchase_order."+string(action), map[string]any{
		"purchase_order": po.ID,
		"reference":      po.Reference,
		"from":           string(from),
		"to":             string(po.Status),
	})
	return po, nil
}

func (e *Engine) requestEvent(ctx context.Context, event string, pr PurchaseRequest, from, to RequestStatus) {
	obs.RecordTransition("purchase_request", string(from), string(to))
	_ = audit.LogEvent(ctx, event, map[string]any{
		"purchase_request": pr.ID,
		"reference":        pr.Reference,
		"vessel_id":        pr.VesselID,
		"from":             string(from),
		"to":               string(to),
	})
}

func requireCrew(actor auth.Principal) error {
	if !actor.IsVessel() {
		return fmt.Errorf("%w: only vessel crew can raise purchase requests", apperr.ErrForbidden)
	}
	if actor.VesselID == "" {
		return fmt.Errorf("%w: crew member %s has no assigned vessel", apperr.ErrForbidden, actor.UserID)
	}
	return nil
}

func requireShore(actor auth.Principal) error {
	if !actor.IsShore() {
		return fmt.Errorf("%w: action restricted to shore staff", apperr.ErrForbidden)
	}
	return nil
}

func checkVisible(actor auth.Principal, vesselID string) error {
	if !actor.CanSeeVessel(vesselID) {
		return fmt.Errorf("%w: resource belongs to another vessel", apperr.ErrForbidden)
	}
	return nil
}

// scopeVessel forces crew onto their own vessel. Asking for another vessel is Forbidden.
func scopeVessel(actor auth.Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if actor.IsShore() {
		return requested, nil
	}
	if !actor.IsVessel() || actor.VesselID == "" {
		return "", fmt.Errorf("%w: no vessel scope", apperr.ErrForbidden)
	}
	if requested != "" && requested != actor.VesselID {
		return "", fmt.Errorf("%w: resource belongs to another vessel", apperr.ErrForbidden)
	}
	return actor.VesselID, nil
}

func buildRequest(in NewRequest) (PurchaseRequest, error) {
	category, err := ParseCategory(in.Category)
	if err != nil {
		return PurchaseRequest{}, err
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if len(in.Lines) == 0 {
		return PurchaseRequest{}, fmt.Errorf("%w: at least one line item is required", apperr.ErrValidation)
	}
	pr := PurchaseRequest{
		Title:    strings.TrimSpace(in.Title),
		Category: category,
		Priority: priority,
		Notes:    strings.TrimSpace(in.Notes),
		Lines:    make([]RequestLine, 0, len(in.Lines)),
	}
	for i, l := range in.Lines {
		desc := strings.TrimSpace(l.Description)
		if desc == "" {
			return PurchaseRequest{}, fmt.Errorf("%w: line %d: description is required", apperr.ErrValidation, i+1)
		}
		if l.Quantity <= 0 {
			return PurchaseRequest{}, fmt.Errorf("%w: line %d: quantity must be positive", apperr.ErrValidation, i+1)
		}
		if l.SuggestedPrice.Valid && l.SuggestedPrice.Decimal.IsNegative() {
			return PurchaseRequest{}, fmt.Errorf("%w: line %d: suggested price must not be negative", apperr.ErrValidation, i+1)
		}
		pr.Lines = append(pr.Lines, RequestLine{
			Description:    desc,
			PartReference:  strings.TrimSpace(l.PartReference),
			Unit:           strings.TrimSpace(l.Unit),
			Quantity:       l.Quantity,
			SuggestedPrice: l.SuggestedPrice,
		})
	}
	return pr, nil
}

func applyApprovals(pr *PurchaseRequest, approvals []LineApproval) error {
	seen := make(map[string]bool, len(approvals))
	for _, a := range approvals {
		idx := lineIndex(pr.Lines, a.LineID)
		if idx < 0 {
			return fmt.Errorf("%w: line %q is not part of %s", apperr.ErrValidation, a.LineID, pr.Reference)
		}
		if seen[a.LineID] {
			return fmt.Errorf("%w: line %q approved twice", apperr.ErrValidation, a.LineID)
		}
		seen[a.LineID] = true
		if err := checkQuantity(a.Quantity, pr.Lines[idx]); err != nil {
			return err
		}
		if err := checkPrice(a.Price, pr.Lines[idx].Description); err != nil {
			return err
		}
		q := a.Quantity
		pr.Lines[idx].ApprovedQuantity = &q
		pr.Lines[idx].ApprovedPrice = a.Price
	}
	return nil
}

func buildOrderItems(pr PurchaseRequest, lines []OrderLine) ([]OrderItem, error) {
	if len(lines) == 0 {
		items := make([]OrderItem, 0, len(pr.Lines))
		for _, l := range pr.Lines {
			qty, price := l.Quantity, l.SuggestedPrice
			if l.ApprovedQuantity != nil {
				qty = *l.ApprovedQuantity
			}
			if l.ApprovedPrice.Valid {
				price = l.ApprovedPrice
			}
			items = append(items, OrderItem{
				RequestLineID:     l.ID,
				Description:       l.Description,
				QuotedPrice:       price,
				ValidatedQuantity: qty,
			})
		}
		return items, nil
	}

	items := make([]OrderItem, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, ol := range lines {
		src, ok := pr.Line(ol.RequestLineID)
		if !ok {
			return nil, fmt.Errorf("%w: line %q is not part of %s", apperr.ErrValidation, ol.RequestLineID, pr.Reference)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("%w: line %q ordered twice", apperr.ErrValidation, src.ID)
		}
		seen[src.ID] = true
		if err := checkQuantity(ol.ValidatedQuantity, src); err != nil {
			return nil, err
		}
		if err := checkPrice(ol.QuotedPrice, src.Description); err != nil {
			return nil, err
		}
		items = append(items, OrderItem{
			RequestLineID:     src.ID,
			Description:       src.Description,
			SupplierName:      strings.TrimSpace(ol.SupplierName),
			QuotedPrice:       ol.QuotedPrice,
			ValidatedQuantity: ol.ValidatedQuantity,
			Remark:            strings.TrimSpace(ol.Remark),
		})
	}
	return items, nil
}

func applyOrderUpdates(po *PurchaseOrder, pr PurchaseRequest, updates []OrderLineUpdate) error {
	for _, u := range updates {
		idx := -1
		for i := range po.Lines {
			if po.Lines[i].ID == u.ItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: line %q is not part of %s", apperr.ErrValidation, u.ItemID, po.Reference)
		}
		item := &po.Lines[idx]
		if u.ValidatedQuantity != nil {
			src, ok := pr.Line(item.RequestLineID)
			if !ok {
				return fmt.Errorf("%w: source line of %q is missing", apperr.ErrInternal, item.ID)
			}
			if err := checkQuantity(*u.ValidatedQuantity, src); err != nil {
				return err
			}
			item.ValidatedQuantity = *u.ValidatedQuantity
		}
		if u.QuotedPrice != nil {
			price := decimal.NewNullDecimal(*u.QuotedPrice)
			if err := checkPrice(price, item.Description); err != nil {
				return err
			}
			item.QuotedPrice = price
		}
		if u.SupplierName != nil {
			item.SupplierName = strings.TrimSpace(*u.SupplierName)
		}
		if u.Remark != nil {
			item.Remark = strings.TrimSpace(*u.Remark)
		}
	}
	return nil
}

// checkQuantity enforces 0 < qty <= requested quantity of src.
func checkQuantity(qty int, src RequestLine) error {
	if qty <= 0 {
		return fmt.Errorf("%w: validated quantity for %q must be positive", apperr.ErrValidation, src.Description)
	}
	if qty > src.Quantity {
		return fmt.Errorf("%w: validated quantity %d for %q exceeds requested %d", apperr.ErrValidation, qty, src.Description, src.Quantity)
	}
	return nil
}

func checkPrice(p decimal.NullDecimal, what string) error {
	if p.Valid && p.Decimal.IsNegative() {
		return fmt.Errorf("%w: price for %q must not be negative", apperr.ErrValidation, what)
	}
	return nil
}

func lineIndex(lines []RequestLine, id string) int {
	for i := range lines {
		if lines[i].ID == id {
			return i
		}
	}
	return -1
}

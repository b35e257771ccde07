package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/auth"
)

var (
	captainV1 = auth.Principal{UserID: "u-capt", Role: auth.RoleCapitaine, VesselID: "v1"}
	mateV2    = auth.Principal{UserID: "u-mate", Role: auth.RoleChiefMate, VesselID: "v2"}
	opsShore  = auth.Principal{UserID: "u-ops", Role: auth.RoleOps}
	finShore  = auth.Principal{UserID: "u-fin", Role: auth.RoleFinance}
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(NewInMemory())
	require.NoError(t, err)
	return e
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func oneLineRequest(qty int) NewRequest {
	return NewRequest{
		Title:    "Engine room spares",
		Category: "engine",
		Lines: []NewLine{{
			Description:    "Fuel filter element",
			Unit:           "pcs",
			Quantity:       qty,
			SuggestedPrice: price("12.345"),
		}},
	}
}

func TestCreateRequestByCrew(t *testing.T) {
	e := newEngine(t)
	pr, err := e.CreateRequest(context.Background(), captainV1, oneLineRequest(10))
	require.NoError(t, err)
	require.Equal(t, RequestSubmitted, pr.Status)
	require.Equal(t, "v1", pr.VesselID)
	require.Equal(t, "u-capt", pr.CreatedBy)
	require.Equal(t, CategoryEngine, pr.Category)
	require.Equal(t, PriorityNormal, pr.Priority)
	require.Len(t, pr.Lines, 1)
	require.NotEmpty(t, pr.Lines[0].ID)
	require.Equal(t, "12.345", pr.Lines[0].SuggestedPrice.Decimal.String())
}

func TestCreateRequestRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.CreateRequest(ctx, opsShore, oneLineRequest(1))
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = e.CreateRequest(ctx, auth.Principal{UserID: "x", Role: auth.RoleYotna}, oneLineRequest(1))
	require.ErrorIs(t, err, apperr.ErrForbidden)

	cases := map[string]NewRequest{
		"no lines":       {Category: "DECK"},
		"zero quantity":  oneLineRequest(0),
		"negative qty":   oneLineRequest(-3),
		"no category":    {Lines: oneLineRequest(1).Lines},
		"bad category":   {Category: "WEAPONS", Lines: oneLineRequest(1).Lines},
		"bad priority":   {Category: "DECK", Priority: "ASAP", Lines: oneLineRequest(1).Lines},
		"no description": {Category: "DECK", Lines: []NewLine{{Quantity: 1}}},
		"negative price": {Category: "DECK", Lines: []NewLine{{Description: "rope", Quantity: 1, SuggestedPrice: price("-1")}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.CreateRequest(ctx, captainV1, in)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestDraftEditThenSubmit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	in := oneLineRequest(2)
	in.Draft = true
	pr, err := e.CreateRequest(ctx, captainV1, in)
	require.NoError(t, err)
	require.Equal(t, RequestDraft, pr.Status)

	in.Lines = append(in.Lines, NewLine{Description: "Gasket", Quantity: 4})
	pr, err = e.UpdateDraft(ctx, captainV1, pr.ID, in)
	require.NoError(t, err)
	require.Len(t, pr.Lines, 2)

	_, err = e.Submit(ctx, mateV2, pr.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	pr, err = e.Submit(ctx, captainV1, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestSubmitted, pr.Status)

	_, err = e.UpdateDraft(ctx, captainV1, pr.ID, in)
	require.ErrorIs(t, err, apperr.ErrConflict)
	_, err = e.Submit(ctx, captainV1, pr.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestApproveRejectTransitions(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(5))
	require.NoError(t, err)

	_, err = e.Approve(ctx, captainV1, pr.ID, nil)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	rejected, err := e.Reject(ctx, opsShore, pr.ID, " out of budget ")
	require.NoError(t, err)
	require.Equal(t, RequestRejected, rejected.Status)
	require.Equal(t, "out of budget", rejected.RejectionReason)
	require.Equal(t, "u-ops", rejected.DecidedBy)
	require.NotNil(t, rejected.DecidedAt)

	_, err = e.Approve(ctx, opsShore, pr.ID, nil)
	require.ErrorIs(t, err, apperr.ErrConflict, "no un-rejecting")
	_, err = e.Reject(ctx, opsShore, pr.ID, "")
	require.ErrorIs(t, err, apperr.ErrConflict)

	pr2, err := e.CreateRequest(ctx, captainV1, oneLineRequest(5))
	require.NoError(t, err)
	_, err = e.Approve(ctx, opsShore, pr2.ID, nil)
	require.NoError(t, err)
	_, err = e.Approve(ctx, finShore, pr2.ID, nil)
	require.ErrorIs(t, err, apperr.ErrConflict, "no re-approval")
}

func TestApproveValidatesLines(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(5))
	require.NoError(t, err)
	lineID := pr.Lines[0].ID

	bad := [][]LineApproval{
		{{LineID: "nope", Quantity: 1}},
		{{LineID: lineID, Quantity: 0}},
		{{LineID: lineID, Quantity: 6}},
		{{LineID: lineID, Quantity: 1, Price: price("-0.01")}},
		{{LineID: lineID, Quantity: 1}, {LineID: lineID, Quantity: 2}},
	}
	for _, approvals := range bad {
		_, err := e.Approve(ctx, opsShore, pr.ID, approvals)
		require.ErrorIs(t, err, apperr.ErrValidation)
	}
	got, err := e.GetRequest(ctx, opsShore, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestSubmitted, got.Status, "failed approvals must not change state")
}

// PR with one line of qty 10, approved at 8, ordered: the PO carries 8 and
// the PR ends ORDERED. A second generation attempt conflicts.
func TestApproveAndGenerateOrderScenario(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(10))
	require.NoError(t, err)

	pr, err = e.Approve(ctx, opsShore, pr.ID, []LineApproval{{LineID: pr.Lines[0].ID, Quantity: 8, Price: price("11.90")}})
	require.NoError(t, err)
	require.Equal(t, RequestApproved, pr.Status)
	require.Equal(t, 8, *pr.Lines[0].ApprovedQuantity)

	po, err := e.GenerateOrder(ctx, opsShore, pr.ID, "Marine Supply Co", nil)
	require.NoError(t, err)
	require.Equal(t, OrderPending, po.Status)
	require.Len(t, po.Lines, 1)
	require.Equal(t, 8, po.Lines[0].ValidatedQuantity)
	require.Equal(t, pr.Lines[0].ID, po.Lines[0].RequestLineID)
	require.Equal(t, "11.9", po.Lines[0].QuotedPrice.Decimal.String())
	require.Equal(t, "v1", po.VesselID)

	got, err := e.GetRequest(ctx, captainV1, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestOrdered, got.Status)

	_, err = e.GenerateOrder(ctx, finShore, pr.ID, "", nil)
	require.ErrorIs(t, err, apperr.ErrConflict)

	orders, err := e.ListOrders(ctx, opsShore, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	byReq, err := e.OrderForRequest(ctx, captainV1, pr.ID)
	require.NoError(t, err)
	require.Equal(t, po.ID, byReq.ID)
}

func TestGenerateOrderLineBounds(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(10))
	require.NoError(t, err)
	_, err = e.Approve(ctx, opsShore, pr.ID, nil)
	require.NoError(t, err)
	lineID := pr.Lines[0].ID

	for _, lines := range [][]OrderLine{
		{{RequestLineID: lineID, ValidatedQuantity: 11}},
		{{RequestLineID: lineID, ValidatedQuantity: 0}},
		{{RequestLineID: "other-pr-line", ValidatedQuantity: 1}},
		{{RequestLineID: lineID, ValidatedQuantity: 1}, {RequestLineID: lineID, ValidatedQuantity: 1}},
	} {
		_, err := e.GenerateOrder(ctx, opsShore, pr.ID, "", lines)
		require.ErrorIs(t, err, apperr.ErrValidation)
	}
	got, err := e.GetRequest(ctx, opsShore, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, got.Status, "failed generation must leave the request approved")

	po, err := e.GenerateOrder(ctx, opsShore, pr.ID, "", []OrderLine{{RequestLineID: lineID, ValidatedQuantity: 10, SupplierName: "Chandler"}})
	require.NoError(t, err)
	require.Equal(t, 10, po.Lines[0].ValidatedQuantity)
	require.False(t, po.Lines[0].QuotedPrice.Valid)
	require.Equal(t, "Chandler", po.Lines[0].SupplierName)
}

func TestRejectedRequestNeverGetsOrder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(3))
	require.NoError(t, err)

	_, err = e.GenerateOrder(ctx, opsShore, pr.ID, "", nil)
	require.ErrorIs(t, err, apperr.ErrConflict, "submitted request cannot be ordered")

	_, err = e.Reject(ctx, opsShore, pr.ID, "")
	require.NoError(t, err)
	_, err = e.GenerateOrder(ctx, opsShore, pr.ID, "", nil)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.OrderForRequest(ctx, opsShore, pr.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentGenerateOrderExactlyOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(4))
	require.NoError(t, err)
	_, err = e.Approve(ctx, opsShore, pr.ID, nil)
	require.NoError(t, err)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.GenerateOrder(ctx, opsShore, pr.ID, "", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, successes)
	require.Equal(t, n-1, conflicts)
	orders, err := e.ListOrders(ctx, opsShore, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestCrewCannotSeeOtherVessel(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(2))
	require.NoError(t, err)

	_, err = e.GetRequest(ctx, mateV2, pr.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = e.Reject(ctx, opsShore, pr.ID, "")
	require.NoError(t, err)
	_, err = e.GetRequest(ctx, mateV2, pr.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden, "forbidden regardless of status")

	_, err = e.ListRequests(ctx, mateV2, RequestFilter{VesselID: "v1"})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	own, err := e.ListRequests(ctx, mateV2, RequestFilter{})
	require.NoError(t, err)
	require.Empty(t, own)

	all, err := e.ListRequests(ctx, opsShore, RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOrderLifecycle(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr, err := e.CreateRequest(ctx, captainV1, oneLineRequest(6))
	require.NoError(t, err)
	_, err = e.Approve(ctx, opsShore, pr.ID, nil)
	require.NoError(t, err)
	po, err := e.GenerateOrder(ctx, opsShore, pr.ID, "", nil)
	require.NoError(t, err)
	itemID := po.Lines[0].ID

	supplier := "Harbour Chandlers"
	quoted := decimal.RequireFromString("99.999")
	qty := 4
	po, err = e.UpdateOrderLines(ctx, opsShore, po.ID, []OrderLineUpdate{{ItemID: itemID, SupplierName: &supplier, QuotedPrice: &quoted, ValidatedQuantity: &qty}})
	require.NoError(t, err)
	require.Equal(t, "Harbour Chandlers", po.Lines[0].SupplierName)
	require.Equal(t, "99.999", po.Lines[0].QuotedPrice.Decimal.String())
	require.Equal(t, 4, po.Lines[0].ValidatedQuantity)

	tooMany := 7
	_, err = e.UpdateOrderLines(ctx, opsShore, po.ID, []OrderLineUpdate{{ItemID: itemID, ValidatedQuantity: &tooMany}})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.ConfirmOrder(ctx, captainV1, po.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = e.ReceiveOrder(ctx, captainV1, po.ID)
	require.ErrorIs(t, err, apperr.ErrConflict, "pending orders cannot be received")

	po, err = e.ConfirmOrder(ctx, opsShore, po.ID)
	require.NoError(t, err)
	require.Equal(t, OrderConfirmed, po.Status)

	_, err = e.UpdateOrderLines(ctx, opsShore, po.ID, []OrderLineUpdate{{ItemID: itemID, Remark: &supplier}})
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.ReceiveOrder(ctx, mateV2, po.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	po, err = e.ReceiveOrder(ctx, captainV1, po.ID)
	require.NoError(t, err)
	require.Equal(t, OrderReceived, po.Status)

	_, err = e.CancelOrder(ctx, opsShore, po.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTransitionTables(t *testing.T) {
	next, err := NextRequestStatus(RequestApproved, ActionOrder)
	require.NoError(t, err)
	require.Equal(t, RequestOrdered, next)

	for _, s := range []RequestStatus{RequestDraft, RequestSubmitted, RequestRejected, RequestOrdered} {
		_, err := NextRequestStatus(s, ActionOrder)
		require.ErrorIs(t, err, apperr.ErrConflict, string(s))
	}
	for _, s := range []OrderStatus{OrderReceived, OrderCancelled} {
		for _, a := range []OrderAction{ActionConfirm, ActionCancel, ActionReceive} {
			_, err := NextOrderStatus(s, a)
			require.ErrorIs(t, err, apperr.ErrConflict)
		}
	}
	next2, err := NextOrderStatus(OrderConfirmed, ActionCancel)
	require.NoError(t, err)
	require.Equal(t, OrderCancelled, next2)
}

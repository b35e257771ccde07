package procurement

import (
	"fmt"

	"fleetops.org/internal/apperr"
)

// RequestAction names a purchase request transition.
type RequestAction string

const (
	ActionSubmit  RequestAction = "submit"
	ActionApprove RequestAction = "approve"
	ActionReject  RequestAction = "reject"
	ActionOrder   RequestAction = "order"
)

// OrderAction names a purchase order transition.
type OrderAction string

const (
	ActionConfirm OrderAction = "confirm"
	ActionCancel  OrderAction = "cancel"
	ActionReceive OrderAction = "receive"
)

type requestEdge struct {
	from   RequestStatus
	action RequestAction
}

type orderEdge struct {
	from   OrderStatus
	action OrderAction
}

var requestTransitions = map[requestEdge]RequestStatus{
	{RequestDraft, ActionSubmit}:      RequestSubmitted,
	{RequestSubmitted, ActionApprove}: RequestApproved,
	{RequestSubmitted, ActionReject}:  RequestRejected,
	{RequestApproved, ActionOrder}:    RequestOrdered,
}

var orderTransitions = map[orderEdge]OrderStatus{
	{OrderPending, ActionConfirm}:   OrderConfirmed,
	{OrderPending, ActionCancel}:    OrderCancelled,
	{OrderConfirmed, ActionReceive}: OrderReceived,
	{OrderConfirmed, ActionCancel}:  OrderCancelled,
}

// NextRequestStatus returns the state reached by applying action in from,
// or a Conflict when the pair is not in the table.
func NextRequestStatus(from RequestStatus, action RequestAction) (RequestStatus, error) {
	to, ok := requestTransitions[requestEdge{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s purchase request", apperr.ErrConflict, action, from)
	}
	return to, nil
}

// NextOrderStatus is NextRequestStatus for purchase orders.
func NextOrderStatus(from OrderStatus, action OrderAction) (OrderStatus, error) {
	to, ok := orderTransitions[orderEdge{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s purchase order", apperr.ErrConflict, action, from)
	}
	return to, nil
}

// Editable reports whether request lines may still change.
func (s RequestStatus) Editable() bool { return s == RequestDraft }

// Terminal reports whether no transition leaves s.
func (s RequestStatus) Terminal() bool { return s == RequestRejected || s == RequestOrdered }

func (s OrderStatus) Terminal() bool { return s == OrderReceived || s == OrderCancelled }

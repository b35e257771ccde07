package procurement

import "context"

// Store persists purchase requests and orders. Update and CreateOrder run
// their callback while holding the row, so a callback's checks and the write
// that follows form one atomic step.
type Store interface {
	CreateRequest(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error)
	GetRequest(ctx context.Context, id string) (PurchaseRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error)
	// UpdateRequest loads the request, applies fn and persists header and lines.
	// An error from fn aborts without writing.
	UpdateRequest(ctx context.Context, id string, fn func(*PurchaseRequest) error) (PurchaseRequest, error)

	// CreateOrder locks the request, builds the order with fn, then inserts it
	// and marks the request ORDERED in one transaction.
	CreateOrder(ctx context.Context, requestID string, fn func(PurchaseRequest) (PurchaseOrder, error)) (PurchaseOrder, error)
	GetOrder(ctx context.Context, id string) (PurchaseOrder, error)
	OrderForRequest(ctx context.Context, requestID string) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]PurchaseOrder, error)
	UpdateOrder(ctx context.Context, id string, fn func(*PurchaseOrder) error) (PurchaseOrder, error)
}

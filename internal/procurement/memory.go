package procurement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. A single
// mutex serialises every read-modify-write.
type InMemory struct {
	mu        sync.RWMutex
	requests  map[string]*PurchaseRequest
	orders    map[string]*PurchaseOrder
	byRequest map[string]string // request id -> order id
	prSeq     uint64
	poSeq     uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		requests:  make(map[string]*PurchaseRequest),
		orders:    make(map[string]*PurchaseOrder),
		byRequest: make(map[string]string),
	}
}

func (s *InMemory) CreateRequest(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prSeq++
	now := time.Now().UTC()
	pr.ID = ids.New()
	pr.Reference = fmt.Sprintf("PR-%d", s.prSeq)
	pr.CreatedAt, pr.UpdatedAt = now, now
	assignRequestLineIDs(&pr)
	stored := copyRequest(pr)
	s.requests[pr.ID] = &stored
	return copyRequest(stored), nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.requests[id]
	if !ok {
		return PurchaseRequest{}, fmt.Errorf("%w: purchase request %s", apperr.ErrNotFound, id)
	}
	return copyRequest(*pr), nil
}

func (s *InMemory) ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PurchaseRequest
	for _, pr := range s.requests {
		if filter.Status != "" && pr.Status != filter.Status {
			continue
		}
		if filter.VesselID != "" && pr.VesselID != filter.VesselID {
			continue
		}
		out = append(out, copyRequest(*pr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := ClampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) UpdateRequest(ctx context.Context, id string, fn func(*PurchaseRequest) error) (PurchaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[id]
	if !ok {
		return PurchaseRequest{}, fmt.Errorf("%w: purchase request %s", apperr.ErrNotFound, id)
	}
	next := copyRequest(*cur)
	if err := fn(&next); err != nil {
		return PurchaseRequest{}, err
	}
	next.ID, next.Reference, next.CreatedAt = cur.ID, cur.Reference, cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	assignRequestLineIDs(&next)
	s.requests[id] = &next
	return copyRequest(next), nil
}

func (s *InMemory) CreateOrder(ctx context.Context, requestID string, fn func(PurchaseRequest) (PurchaseOrder, error)) (PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[requestID]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase request %s", apperr.ErrNotFound, requestID)
	}
	if _, exists := s.byRequest[requestID]; exists {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase request %s already has an order", apperr.ErrConflict, pr.Reference)
	}
	po, err := fn(copyRequest(*pr))
	if err != nil {
		return PurchaseOrder{}, err
	}

	s.poSeq++
	now := time.Now().UTC()
	po.ID = ids.New()
	po.Reference = fmt.Sprintf("PO-%d", s.poSeq)
	po.RequestID = requestID
	po.VesselID = pr.VesselID
	po.CreatedAt, po.UpdatedAt = now, now
	assignOrderItemIDs(&po)

	stored := copyOrder(po)
	s.orders[po.ID] = &stored
	s.byRequest[requestID] = po.ID
	pr.Status = RequestOrdered
	pr.UpdatedAt = now
	return copyOrder(stored), nil
}

func (s *InMemory) GetOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	po, ok := s.orders[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %s", apperr.ErrNotFound, id)
	}
	return copyOrder(*po), nil
}

func (s *InMemory) OrderForRequest(ctx context.Context, requestID string) (PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRequest[requestID]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: no purchase order for request %s", apperr.ErrNotFound, requestID)
	}
	return copyOrder(*s.orders[id]), nil
}

func (s *InMemory) ListOrders(ctx context.Context, filter OrderFilter) ([]PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PurchaseOrder
	for _, po := range s.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.VesselID != "" && po.VesselID != filter.VesselID {
			continue
		}
		out = append(out, copyOrder(*po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := ClampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) UpdateOrder(ctx context.Context, id string, fn func(*PurchaseOrder) error) (PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %s", apperr.ErrNotFound, id)
	}
	next := copyOrder(*cur)
	if err := fn(&next); err != nil {
		return PurchaseOrder{}, err
	}
	next.ID, next.Reference, next.RequestID, next.VesselID, next.CreatedAt = cur.ID, cur.Reference, cur.RequestID, cur.VesselID, cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.orders[id] = &next
	return copyOrder(next), nil
}

func assignRequestLineIDs(pr *PurchaseRequest) {
	for i := range pr.Lines {
		if pr.Lines[i].ID == "" {
			pr.Lines[i].ID = ids.New()
		}
		pr.Lines[i].Position = i + 1
	}
}

func assignOrderItemIDs(po *PurchaseOrder) {
	for i := range po.Lines {
		if po.Lines[i].ID == "" {
			po.Lines[i].ID = ids.New()
		}
		po.Lines[i].Position = i + 1
	}
}

func copyRequest(pr PurchaseRequest) PurchaseRequest {
	out := pr
	out.Lines = make([]RequestLine, len(pr.Lines))
	for i, l := range pr.Lines {
		if l.ApprovedQuantity != nil {
			q := *l.ApprovedQuantity
			l.ApprovedQuantity = &q
		}
		out.Lines[i] = l
	}
	if pr.DecidedAt != nil {
		t := *pr.DecidedAt
		out.DecidedAt = &t
	}
	return out
}

func copyOrder(po PurchaseOrder) PurchaseOrder {
	out := po
	out.Lines = append([]OrderItem(nil), po.Lines...)
	return out
}

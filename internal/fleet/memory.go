package fleet

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

type InMemory struct {
	mu      sync.RWMutex
	vessels map[string]Vessel
}

func NewInMemory() *InMemory {
	return &InMemory{vessels: make(map[string]Vessel)}
}

func (s *InMemory) CreateVessel(ctx context.Context, v Vessel) (Vessel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.vessels {
		if existing.IMO == v.IMO {
			return Vessel{}, fmt.Errorf("%w: IMO %s already registered", apperr.ErrConflict, v.IMO)
		}
	}
	if v.ID == "" {
		v.ID = ids.New()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	s.vessels[v.ID] = v
	return v, nil
}

func (s *InMemory) GetVessel(ctx context.Context, id string) (Vessel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vessels[id]
	if !ok {
		return Vessel{}, fmt.Errorf("%w: vessel %s", apperr.ErrNotFound, id)
	}
	return v, nil
}

func (s *InMemory) ListVessels(ctx context.Context) ([]Vessel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vessel, 0, len(s.vessels))
	for _, v := range s.vessels {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateVesselStatus(ctx context.Context, id string, status VesselStatus) (Vessel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vessels[id]
	if !ok {
		return Vessel{}, fmt.Errorf("%w: vessel %s", apperr.ErrNotFound, id)
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	s.vessels[id] = v
	return v, nil
}

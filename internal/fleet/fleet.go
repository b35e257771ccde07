// Package fleet is the vessel directory.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
)

type VesselStatus string

const (
	VesselActive   VesselStatus = "ACTIVE"
	VesselInactive VesselStatus = "INACTIVE"
	VesselDryDock  VesselStatus = "DRY_DOCK"
)

// ParseVesselStatus defaults an empty value to ACTIVE.
func ParseVesselStatus(s string) (VesselStatus, error) {
	st := VesselStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case "":
		return VesselActive, nil
	case VesselActive, VesselInactive, VesselDryDock:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown vessel status %q", apperr.ErrValidation, s)
}

type Vessel struct {
	ID        string       `json:"id"`
	IMO       string       `json:"imo"`
	Name      string       `json:"name"`
	Status    VesselStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store persists vessels. CreateVessel returns Conflict on a duplicate IMO.
type Store interface {
	CreateVessel(ctx context.Context, v Vessel) (Vessel, error)
	GetVessel(ctx context.Context, id string) (Vessel, error)
	ListVessels(ctx context.Context) ([]Vessel, error)
	UpdateVesselStatus(ctx context.Context, id string, status VesselStatus) (Vessel, error)
}

var imoPattern = regexp.MustCompile(`^[0-9]{7}$`)

// Service applies directory rules: ADMIN and OPS manage vessels, crew only see their own.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("vessel store is required")
	}
	return &Service{store: store}, nil
}

func (s *Service) CreateVessel(ctx context.Context, actor auth.Principal, imo, name, status string) (Vessel, error) {
	if err := requireManager(actor); err != nil {
		return Vessel{}, err
	}
	imo = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(imo)), "IMO")
	imo = strings.TrimSpace(imo)
	if !imoPattern.MatchString(imo) {
		return Vessel{}, fmt.Errorf("%w: IMO number must be 7 digits", apperr.ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Vessel{}, fmt.Errorf("%w: vessel name is required", apperr.ErrValidation)
	}
	st, err := ParseVesselStatus(status)
	if err != nil {
		return Vessel{}, err
	}
	v, err := s.store.CreateVessel(ctx, Vessel{IMO: imo, Name: name, Status: st})
	if err != nil {
		return Vessel{}, err
	}
	_ = audit.LogEvent(ctx, "vessel.created", map[string]any{"vessel_id": v.ID, "imo": v.IMO})
	return v, nil
}

func (s *Service) GetVessel(ctx context.Context, actor auth.Principal, id string) (Vessel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Vessel{}, fmt.Errorf("%w: vessel id is required", apperr.ErrValidation)
	}
	if !actor.CanSeeVessel(id) {
		return Vessel{}, fmt.Errorf("%w: vessel %s is not yours", apperr.ErrForbidden, id)
	}
	return s.store.GetVessel(ctx, id)
}

// ListVessels returns the fleet for shore staff and the own vessel for crew.
func (s *Service) ListVessels(ctx context.Context, actor auth.Principal) ([]Vessel, error) {
	if actor.IsShore() {
		return s.store.ListVessels(ctx)
	}
	if !actor.IsVessel() || actor.VesselID == "" {
		return nil, fmt.Errorf("%w: no vessel scope", apperr.ErrForbidden)
	}
	v, err := s.store.GetVessel(ctx, actor.VesselID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return []Vessel{}, nil
		}
		return nil, err
	}
	return []Vessel{v}, nil
}

func (s *Service) UpdateVesselStatus(ctx context.Context, actor auth.Principal, id, status string) (Vessel, error) {
	if err := requireManager(actor); err != nil {
		return Vessel{}, err
	}
	if strings.TrimSpace(status) == "" {
		return Vessel{}, fmt.Errorf("%w: status is required", apperr.ErrValidation)
	}
	st, err := ParseVesselStatus(status)
	if err != nil {
		return Vessel{}, err
	}
	v, err := s.store.UpdateVesselStatus(ctx, strings.TrimSpace(id), st)
	if err != nil {
		return Vessel{}, err
	}
	_ = audit.LogEvent(ctx, "vessel.status_changed", map[string]any{"vessel_id": v.ID, "status": string(v.Status)})
	return v, nil
}

func requireManager(actor auth.Principal) error {
	if !actor.HasRole(auth.RoleAdmin, auth.RoleOps) {
		return fmt.Errorf("%w: vessel management requires ADMIN or OPS", apperr.ErrForbidden)
	}
	return nil
}

package pg

import (
	"context"

	"fleetops.org/internal/fleet"
	"fleetops.org/internal/ids"
)

var _ fleet.Store = (*Store)(nil)

const vesselColumns = `id, imo, name, status, created_at, updated_at`

func scanVessel(row rowScanner) (fleet.Vessel, error) {
	var (
		v      fleet.Vessel
		status string
	)
	if err := row.Scan(&v.ID, &v.IMO, &v.Name, &status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return fleet.Vessel{}, err
	}
	v.Status = fleet.VesselStatus(status)
	return v, nil
}

func (s *Store) CreateVessel(ctx context.Context, v fleet.Vessel) (fleet.Vessel, error) {
	if v.ID == "" {
		v.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into vessels (id, imo, name, status) values ($1, $2, $3, $4)
		returning `+vesselColumns, v.ID, v.IMO, v.Name, string(v.Status))
	created, err := scanVessel(row)
	if err != nil {
		return fleet.Vessel{}, mapError(err, "vessel IMO "+v.IMO)
	}
	return created, nil
}

func (s *Store) GetVessel(ctx context.Context, id string) (fleet.Vessel, error) {
	v, err := scanVessel(s.db.QueryRowContext(ctx, `select `+vesselColumns+` from vessels where id = $1`, id))
	if err != nil {
		return fleet.Vessel{}, mapError(err, "vessel "+id)
	}
	return v, nil
}

func (s *Store) ListVessels(ctx context.Context) ([]fleet.Vessel, error) {
	rows, err := s.db.QueryContext(ctx, `select `+vesselColumns+` from vessels order by name`)
	if err != nil {
		return nil, mapError(err, "vessels")
	}
	defer rows.Close()
	var out []fleet.Vessel
	for rows.Next() {
		v, err := scanVessel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVesselStatus(ctx context.Context, id string, status fleet.VesselStatus) (fleet.Vessel, error) {
	row := s.db.QueryRowContext(ctx, `
		update vessels set status = $2, updated_at = now() where id = $1
		returning `+vesselColumns, id, string(status))
	v, err := scanVessel(row)
	if err != nil {
		return fleet.Vessel{}, mapError(err, "vessel "+id)
	}
	return v, nil
}

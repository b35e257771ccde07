package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/ids"
	"fleetops.org/internal/procurement"
)

var _ procurement.Store = (*Store)(nil)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const requestColumns = `id, reference, vessel_id, created_by, title, category, priority, notes, status,
	decided_by, decided_at, rejection_reason, created_at, updated_at`

func scanRequest(row rowScanner) (procurement.PurchaseRequest, error) {
	var (
		pr                         procurement.PurchaseRequest
		category, priority, status string
		decidedBy                  sql.NullString
		decidedAt                  sql.NullTime
	)
	if err := row.Scan(&pr.ID, &pr.Reference, &pr.VesselID, &pr.CreatedBy, &pr.Title, &category, &priority,
		&pr.Notes, &status, &decidedBy, &decidedAt, &pr.RejectionReason, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return procurement.PurchaseRequest{}, err
	}
	pr.Category = procurement.Category(category)
	pr.Priority = procurement.Priority(priority)
	pr.Status = procurement.RequestStatus(status)
	pr.DecidedBy = decidedBy.String
	pr.DecidedAt = timePtr(decidedAt)
	return pr, nil
}

func loadRequestLines(ctx context.Context, q queryer, requestID string) ([]procurement.RequestLine, error) {
	rows, err := q.QueryContext(ctx, `
		select id, position, description, part_reference, unit, quantity,
		       suggested_price, approved_quantity, approved_price
		from purchase_request_lines where request_id = $1 order by position`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []procurement.RequestLine{}
	for rows.Next() {
		var (
			l           procurement.RequestLine
			approvedQty sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.Position, &l.Description, &l.PartReference, &l.Unit, &l.Quantity,
			&l.SuggestedPrice, &approvedQty, &l.ApprovedPrice); err != nil {
			return nil, err
		}
		l.ApprovedQuantity = intPtr(approvedQty)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// loadRequest reads header and lines; forUpdate locks the header row.
func loadRequest(ctx context.Context, q queryer, id string, forUpdate bool) (procurement.PurchaseRequest, error) {
	query := `select ` + requestColumns + ` from purchase_requests where id = $1`
	if forUpdate {
		query += ` for update`
	}
	pr, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return procurement.PurchaseRequest{}, mapError(err, "purchase request "+id)
	}
	if pr.Lines, err = loadRequestLines(ctx, q, id); err != nil {
		return procurement.PurchaseRequest{}, err
	}
	return pr, nil
}

func (s *Store) CreateRequest(ctx context.Context, pr procurement.PurchaseRequest) (procurement.PurchaseRequest, error) {
	pr.ID = ids.New()
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into purchase_requests (id, reference, vessel_id, created_by, title, category, priority, notes, status)
			values ($1, 'PR-' || nextval('purchase_request_ref_seq'), $2, $3, $4, $5, $6, $7, $8)`,
			pr.ID, pr.VesselID, pr.CreatedBy, pr.Title, string(pr.Category), string(pr.Priority), pr.Notes, string(pr.Status)); err != nil {
			return err
		}
		return writeRequestLines(ctx, tx, &pr)
	})
	if err != nil {
		return procurement.PurchaseRequest{}, mapError(err, "purchase request")
	}
	return s.GetRequest(ctx, pr.ID)
}

func (s *Store) GetRequest(ctx context.Context, id string) (procurement.PurchaseRequest, error) {
	return loadRequest(ctx, s.db, id, false)
}

func (s *Store) ListRequests(ctx context.Context, filter procurement.RequestFilter) ([]procurement.PurchaseRequest, error) {
	query := `select ` + requestColumns + ` from purchase_requests where true`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" and status = $%d", len(args))
	}
	if filter.VesselID != "" {
		args = append(args, filter.VesselID)
		query += fmt.Sprintf(" and vessel_id = $%d", len(args))
	}
	args = append(args, procurement.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" order by id desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "purchase requests")
	}
	var out []procurement.PurchaseRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, pr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadRequestLines(ctx, s.db, out[i].ID); err != nil {
			return nil, mapError(err, "purchase request lines")
		}
	}
	return out, nil
}

func (s *Store) UpdateRequest(ctx context.Context, id string, fn func(*procurement.PurchaseRequest) error) (procurement.PurchaseRequest, error) {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		cur, err := loadRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := cur
		next.Lines = append([]procurement.RequestLine(nil), cur.Lines...)
		if err := fn(&next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			update purchase_requests
			set title = $2, category = $3, priority = $4, notes = $5, status = $6,
			    decided_by = $7, decided_at = $8, rejection_reason = $9, updated_at = now()
			where id = $1`,
			id, next.Title, string(next.Category), string(next.Priority), next.Notes, string(next.Status),
			nullIfEmpty(next.DecidedBy), nullTime(next.DecidedAt), next.RejectionReason); err != nil {
			return err
		}
		keep := make([]string, 0, len(next.Lines))
		for _, l := range next.Lines {
			if l.ID != "" {
				keep = append(keep, l.ID)
			}
		}
		if err := deleteMissingLines(ctx, tx, id, keep); err != nil {
			return err
		}
		return writeRequestLines(ctx, tx, &next)
	})
	if err != nil {
		return procurement.PurchaseRequest{}, mapError(err, "purchase request "+id)
	}
	return s.GetRequest(ctx, id)
}

func deleteMissingLines(ctx context.Context, tx *sql.Tx, requestID string, keep []string) error {
	rows, err := tx.QueryContext(ctx, `select id from purchase_request_lines where request_id = $1`, requestID)
	if err != nil {
		return err
	}
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var drop []string
	for rows.Next() {
		var lineID string
		if err := rows.Scan(&lineID); err != nil {
			rows.Close()
			return err
		}
		if !kept[lineID] {
			drop = append(drop, lineID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, lineID := range drop {
		if _, err := tx.ExecContext(ctx, `delete from purchase_request_lines where id = $1`, lineID); err != nil {
			return err
		}
	}
	return nil
}

// writeRequestLines upserts every line, numbering positions from 1.
func writeRequestLines(ctx context.Context, tx *sql.Tx, pr *procurement.PurchaseRequest) error {
	for i := range pr.Lines {
		l := &pr.Lines[i]
		if l.ID == "" {
			l.ID = ids.New()
		}
		l.Position = i + 1
		if _, err := tx.ExecContext(ctx, `
			insert into purchase_request_lines
			  (id, request_id, position, description, part_reference, unit, quantity,
			   suggested_price, approved_quantity, approved_price)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			on conflict (id) do update set
			  position = excluded.position,
			  description = excluded.description,
			  part_reference = excluded.part_reference,
			  unit = excluded.unit,
			  quantity = excluded.quantity,
			  suggested_price = excluded.suggested_price,
			  approved_quantity = excluded.approved_quantity,
			  approved_price = excluded.approved_price`,
			l.ID, pr.ID, l.Position, l.Description, l.PartReference, l.Unit, l.Quantity,
			l.SuggestedPrice, nullInt(l.ApprovedQuantity), l.ApprovedPrice); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, reference, request_id, vessel_id, created_by, supplier, status, created_at, updated_at`

func scanOrder(row rowScanner) (procurement.PurchaseOrder, error) {
	var (
		po     procurement.PurchaseOrder
		status string
	)
	if err := row.Scan(&po.ID, &po.Reference, &po.RequestID, &po.VesselID, &po.CreatedBy, &po.Supplier,
		&status, &po.CreatedAt, &po.UpdatedAt); err != nil {
		return procurement.PurchaseOrder{}, err
	}
	po.Status = procurement.OrderStatus(status)
	return po, nil
}

func loadOrderLines(ctx context.Context, q queryer, orderID string) ([]procurement.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		select id, position, request_line_id, description, supplier_name, quoted_price, validated_quantity, remark
		from purchase_order_lines where order_id = $1 order by position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []procurement.OrderItem{}
	for rows.Next() {
		var it procurement.OrderItem
		if err := rows.Scan(&it.ID, &it.Position, &it.RequestLineID, &it.Description, &it.SupplierName,
			&it.QuotedPrice, &it.ValidatedQuantity, &it.Remark); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadOrder(ctx context.Context, q queryer, where string, arg any, forUpdate bool) (procurement.PurchaseOrder, error) {
	query := `select ` + orderColumns + ` from purchase_orders where ` + where
	if forUpdate {
		query += ` for update`
	}
	po, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return procurement.PurchaseOrder{}, mapError(err, fmt.Sprintf("purchase order for %v", arg))
	}
	if po.Lines, err = loadOrderLines(ctx, q, po.ID); err != nil {
		return procurement.PurchaseOrder{}, err
	}
	return po, nil
}

// CreateOrder runs serializable: the request row lock and the unique
// request_id together guarantee at most one order per request.
func (s *Store) CreateOrder(ctx context.Context, requestID string, fn func(procurement.PurchaseRequest) (procurement.PurchaseOrder, error)) (procurement.PurchaseOrder, error) {
	var orderID string
	err := s.inTx(ctx, serializable, func(tx *sql.Tx) error {
		pr, err := loadRequest(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		var existing string
		err = tx.QueryRowContext(ctx, `select id from purchase_orders where request_id = $1`, requestID).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: purchase request %s already has an order", apperr.ErrConflict, pr.Reference)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		po, err := fn(pr)
		if err != nil {
			return err
		}
		orderID = ids.New()
		if _, err := tx.ExecContext(ctx, `
			insert into purchase_orders (id, reference, request_id, vessel_id, created_by, supplier, status)
			values ($1, 'PO-' || nextval('purchase_order_ref_seq'), $2, $3, $4, $5, $6)`,
			orderID, requestID, pr.VesselID, po.CreatedBy, po.Supplier, string(po.Status)); err != nil {
			return err
		}
		for i, it := range po.Lines {
			if it.ID == "" {
				it.ID = ids.New()
			}
			if _, err := tx.ExecContext(ctx, `
				insert into purchase_order_lines
				  (id, order_id, position, request_line_id, description, supplier_name, quoted_price, validated_quantity, remark)
				values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				it.ID, orderID, i+1, it.RequestLineID, it.Description, it.SupplierName, it.QuotedPrice,
				it.ValidatedQuantity, it.Remark); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			update purchase_requests set status = $2, updated_at = now() where id = $1`,
			requestID, string(procurement.RequestOrdered))
		return err
	})
	if err != nil {
		return procurement.PurchaseOrder{}, mapError(err, "purchase order for request "+requestID)
	}
	return s.GetOrder(ctx, orderID)
}

func (s *Store) GetOrder(ctx context.Context, id string) (procurement.PurchaseOrder, error) {
	return loadOrder(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) OrderForRequest(ctx context.Context, requestID string) (procurement.PurchaseOrder, error) {
	return loadOrder(ctx, s.db, `request_id = $1`, requestID, false)
}

func (s *Store) ListOrders(ctx context.Context, filter procurement.OrderFilter) ([]procurement.PurchaseOrder, error) {
	query := `select ` + orderColumns + ` from purchase_orders where true`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" and status = $%d", len(args))
	}
	if filter.VesselID != "" {
		args = append(args, filter.VesselID)
		query += fmt.Sprintf(" and vessel_id = $%d", len(args))
	}
	args = append(args, procurement.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" order by id desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "purchase orders")
	}
	var out []procurement.PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, po)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadOrderLines(ctx, s.db, out[i].ID); err != nil {
			return nil, mapError(err, "purchase order lines")
		}
	}
	return out, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, fn func(*procurement.PurchaseOrder) error) (procurement.PurchaseOrder, error) {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		cur, err := loadOrder(ctx, tx, `id = $1`, id, true)
		if err != nil {
			return err
		}
		next := cur
		next.Lines = append([]procurement.OrderItem(nil), cur.Lines...)
		if err := fn(&next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			update purchase_orders set supplier = $2, status = $3, updated_at = $4 where id = $1`,
			id, next.Supplier, string(next.Status), time.Now().UTC()); err != nil {
			return err
		}
		for _, it := range next.Lines {
			if _, err := tx.ExecContext(ctx, `
				update purchase_order_lines
				set supplier_name = $2, quoted_price = $3, validated_quantity = $4, remark = $5
				where id = $1 and order_id = $6`,
				it.ID, it.SupplierName, it.QuotedPrice, it.ValidatedQuantity, it.Remark, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return procurement.PurchaseOrder{}, mapError(err, "purchase order "+id)
	}
	return s.GetOrder(ctx, id)
}

package pg

import (
	"context"
	"database/sql"

	"fleetops.org/internal/documents"
	"fleetops.org/internal/ids"
)

var _ documents.Store = (*Store)(nil)

const (
	folderColumns   = `id, name, vessel_id, created_by, created_at`
	documentColumns = `id, folder_id, vessel_id, name, blob_key, content_type, size_bytes, uploaded_by, created_at`
)

func scanFolder(row rowScanner) (documents.Folder, error) {
	var (
		f        documents.Folder
		vesselID sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Name, &vesselID, &f.CreatedBy, &f.CreatedAt); err != nil {
		return documents.Folder{}, err
	}
	f.VesselID = vesselID.String
	return f, nil
}

func scanDocument(row rowScanner) (documents.Document, error) {
	var (
		d        documents.Document
		vesselID sql.NullString
	)
	if err := row.Scan(&d.ID, &d.FolderID, &vesselID, &d.Name, &d.BlobKey, &d.ContentType, &d.Size,
		&d.UploadedBy, &d.CreatedAt); err != nil {
		return documents.Document{}, err
	}
	d.VesselID = vesselID.String
	return d, nil
}

func (s *Store) CreateFolder(ctx context.Context, f documents.Folder) (documents.Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into document_folders (id, name, vessel_id, created_by) values ($1, $2, $3, $4)
		returning `+folderColumns, ids.New(), f.Name, nullIfEmpty(f.VesselID), f.CreatedBy)
	created, err := scanFolder(row)
	if err != nil {
		return documents.Folder{}, mapError(err, "folder "+f.Name)
	}
	return created, nil
}

func (s *Store) GetFolder(ctx context.Context, id string) (documents.Folder, error) {
	f, err := scanFolder(s.db.QueryRowContext(ctx, `select `+folderColumns+` from document_folders where id = $1`, id))
	if err != nil {
		return documents.Folder{}, mapError(err, "folder "+id)
	}
	return f, nil
}

func (s *Store) ListFolders(ctx context.Context, filter documents.FolderFilter) ([]documents.Folder, error) {
	query := `select ` + folderColumns + ` from document_folders`
	var args []any
	switch {
	case filter.VesselID == "":
	case filter.IncludeFleetWide:
		query += ` where vessel_id = $1 or vessel_id is null`
		args = append(args, filter.VesselID)
	default:
		query += ` where vessel_id = $1`
		args = append(args, filter.VesselID)
	}
	query += ` order by name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "folders")
	}
	defer rows.Close()
	out := []documents.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CreateDocument(ctx context.Context, d documents.Document) (documents.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into documents (id, folder_id, vessel_id, name, blob_key, content_type, size_bytes, uploaded_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+documentColumns,
		ids.New(), d.FolderID, nullIfEmpty(d.VesselID), d.Name, d.BlobKey, d.ContentType, d.Size, d.UploadedBy)
	created, err := scanDocument(row)
	if err != nil {
		return documents.Document{}, mapError(err, "document "+d.Name)
	}
	return created, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (documents.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id = $1`, id))
	if err != nil {
		return documents.Document{}, mapError(err, "document "+id)
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, folderID string) ([]documents.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+documentColumns+` from documents where folder_id = $1 order by id`, folderID)
	if err != nil {
		return nil, mapError(err, "documents")
	}
	defer rows.Close()
	out := []documents.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) (documents.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `
		delete from documents where id = $1 returning `+documentColumns, id))
	if err != nil {
		return documents.Document{}, mapError(err, "document "+id)
	}
	return d, nil
}

// DeleteFolderCascade collects blob keys, deletes the documents and then the
// folder in one transaction. Blobs are removed by the caller after commit.
func (s *Store) DeleteFolderCascade(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx, `select id from document_folders where id = $1 for update`, id).Scan(&locked); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `delete from documents where folder_id = $1 returning blob_key`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, key)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from document_folders where id = $1`, id)
		if err != nil {
			return err
		}
		return expectOne(res, "folder "+id)
	})
	if err != nil {
		return nil, mapError(err, "folder "+id)
	}
	return keys, nil
}

package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/documents"
)

const multipartMemory = 8 << 20

type createFolderRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	VesselID string `json:"vessel_id"`
}

func (a *API) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := a.deps.Documents.ListFolders(r.Context(), principal(r), r.URL.Query().Get("vessel_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, folders)
}

func (a *API) createFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := a.deps.Documents.CreateFolder(r.Context(), principal(r), req.Name, req.VesselID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, f)
}

func (a *API) deleteFolder(w http.ResponseWriter, r *http.Request) {
	id := vars(r, "id")
	if err := a.deps.Documents.DeleteFolderCascade(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.deps.Documents.ListDocuments(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, docs)
}

// uploadDocument takes a multipart form with a "file" part and an optional
// "vessel_id" field.
func (a *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", apperr.ErrValidation, tooLarge.Limit))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid multipart form: %v", apperr.ErrValidation, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file part is required", apperr.ErrValidation))
		return
	}
	defer file.Close()

	doc, err := a.deps.Documents.Upload(r.Context(), principal(r), documents.Upload{
		FolderID:    vars(r, "id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		VesselID:    r.FormValue("vessel_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, doc)
}

func (a *API) documentURL(w http.ResponseWriter, r *http.Request) {
	u, expires, err := a.deps.Documents.DownloadURL(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"url": u, "expires_at": expires.UTC()})
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := vars(r, "id")
	if err := a.deps.Documents.DeleteDocument(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"deleted": id})
}

// serveBlob streams a blob to the holder of a valid signed token. It sits
// outside the session middleware: the token is the credential.
func (a *API) serveBlob(w http.ResponseWriter, r *http.Request) {
	rc, obj, err := a.deps.Blobs.Open(r.Context(), vars(r, "bucket"), vars(r, "key"), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", obj.Key))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// Package httpapi is the HTTP transport of the back office: routing,
// middleware, session authentication and the JSON result envelope.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"fleetops.org/internal/auth"
	"fleetops.org/internal/blob"
	"fleetops.org/internal/documents"
	"fleetops.org/internal/fleet"
	"fleetops.org/internal/obs"
	"fleetops.org/internal/procurement"
)

// ReadyProbe reports whether the backing stores answer.
type ReadyProbe struct {
	DB     *sql.DB
	Checks []func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// BlobOpener serves signed blob downloads.
type BlobOpener interface {
	Open(ctx context.Context, bucket, key, token string) (io.ReadCloser, blob.Object, error)
}

// Limits configures request throttling and body sizes. Zero values disable a limit.
type Limits struct {
	RateBurst      int
	RatePerSec     float64
	LoginPerMinute int
	MaxBodyBytes   int64
	UploadMaxBytes int64
}

// Deps are the services the API exposes.
type Deps struct {
	Auth          *auth.Authenticator
	Users         *auth.Users
	Registry      *auth.Registry
	Fleet         *fleet.Service
	Engine        *procurement.Engine
	Documents     *documents.Service
	Blobs         BlobOpener
	Ready         ReadyProbe
	Version       string
	SecureCookies bool
	Limits        Limits
}

type API struct {
	deps   Deps
	router *mux.Router
	logins *limiterSet
}

func New(deps Deps) (*API, error) {
	if deps.Auth == nil {
		return nil, errors.New("httpapi: authenticator is required")
	}
	a := &API{deps: deps}
	if n := deps.Limits.LoginPerMinute; n > 0 {
		a.logins = newLimiterSet(rate.Every(time.Minute/time.Duration(n)), n)
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.deps.Limits.MaxBodyBytes, a.deps.Limits.UploadMaxBytes)
	if a.deps.Limits.RatePerSec > 0 && a.deps.Limits.RateBurst > 0 {
		h = RateLimit(h, a.deps.Limits.RateBurst, a.deps.Limits.RatePerSec)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = AccessLog(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	if a.deps.Blobs != nil {
		r.HandleFunc("/v1/blobs/{bucket}/{key}", a.serveBlob).Methods(http.MethodGet)
	}

	r.HandleFunc("/v1/auth/login", a.login).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/logout", a.logout).Methods(http.MethodPost)

	s := r.PathPrefix("/v1").Subrouter()
	s.Use(a.withSession)
	s.HandleFunc("/auth/me", a.me).Methods(http.MethodGet)
	s.HandleFunc("/access", a.access).Methods(http.MethodGet)

	if a.deps.Registry != nil {
		s.HandleFunc("/roles", a.listRoles).Methods(http.MethodGet)
		s.HandleFunc("/roles", a.createRole).Methods(http.MethodPost)
		s.HandleFunc("/roles/{id}/permissions", a.setRolePermissions).Methods(http.MethodPut)
		s.HandleFunc("/roles/{id}", a.deleteRole).Methods(http.MethodDelete)
		s.HandleFunc("/permissions", a.listPermissions).Methods(http.MethodGet)
	}
	if a.deps.Users != nil {
		s.HandleFunc("/users", a.listUsers).Methods(http.MethodGet)
		s.HandleFunc("/users", a.createUser).Methods(http.MethodPost)
		s.HandleFunc("/users/{id}", a.getUser).Methods(http.MethodGet)
		s.HandleFunc("/users/{id}/status", a.setUserStatus).Methods(http.MethodPatch)
		s.HandleFunc("/users/{id}", a.deleteUser).Methods(http.MethodDelete)
	}
	if a.deps.Fleet != nil {
		s.HandleFunc("/vessels", a.listVessels).Methods(http.MethodGet)
		s.HandleFunc("/vessels", a.createVessel).Methods(http.MethodPost)
		s.HandleFunc("/vessels/{id}", a.getVessel).Methods(http.MethodGet)
		s.HandleFunc("/vessels/{id}/status", a.setVesselStatus).Methods(http.MethodPatch)
	}
	if a.deps.Engine != nil {
		s.HandleFunc("/purchase-requests", a.listRequests).Methods(http.MethodGet)
		s.HandleFunc("/purchase-requests", a.createRequest).Methods(http.MethodPost)
		s.HandleFunc("/purchase-requests/{id}", a.getRequest).Methods(http.MethodGet)
		s.HandleFunc("/purchase-requests/{id}", a.updateDraft).Methods(http.MethodPut)
		s.HandleFunc("/purchase-requests/{id}/submit", a.submitRequest).Methods(http.MethodPost)
		s.HandleFunc("/purchase-requests/{id}/approve", a.approveRequest).Methods(http.MethodPost)
		s.HandleFunc("/purchase-requests/{id}/reject", a.rejectRequest).Methods(http.MethodPost)
		s.HandleFunc("/purchase-requests/{id}/order", a.generateOrder).Methods(http.MethodPost)
		s.HandleFunc("/purchase-requests/{id}/order", a.orderForRequest).Methods(http.MethodGet)
		s.HandleFunc("/purchase-orders", a.listOrders).Methods(http.MethodGet)
		s.HandleFunc("/purchase-orders/{id}", a.getOrder).Methods(http.MethodGet)
		s.HandleFunc("/purchase-orders/{id}/lines", a.updateOrderLines).Methods(http.MethodPatch)
		s.HandleFunc("/purchase-orders/{id}/{action:confirm|receive|cancel}", a.transitionOrder).Methods(http.MethodPost)
	}
	if a.deps.Documents != nil {
		s.HandleFunc("/folders", a.listFolders).Methods(http.MethodGet)
		s.HandleFunc("/folders", a.createFolder).Methods(http.MethodPost)
		s.HandleFunc("/folders/{id}", a.deleteFolder).Methods(http.MethodDelete)
		s.HandleFunc("/folders/{id}/documents", a.listDocuments).Methods(http.MethodGet)
		s.HandleFunc("/folders/{id}/documents", a.uploadDocument).Methods(http.MethodPost)
		s.HandleFunc("/documents/{id}/url", a.documentURL).Methods(http.MethodGet)
		s.HandleFunc("/documents/{id}", a.deleteDocument).Methods(http.MethodDelete)
	}
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.deps.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeFailure(w, r, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"status": "ready"})
}

func vars(r *http.Request, name string) string { return mux.Vars(r)[name] }

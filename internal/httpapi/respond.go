package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
	"fleetops.org/internal/obs"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data, RequestID: audit.RequestIDFromContext(r.Context())})
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, envelope{
		Error:     &errorBody{Code: code, Message: msg},
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// writeError maps err onto the envelope. Internal errors are logged with the
// request context and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrTooManyAttempts) {
		w.Header().Set("Retry-After", "60")
		writeFailure(w, r, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
		return
	}
	if apperr.IsInternal(err) {
		obs.Logger().Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeFailure(w, r, apperr.Status(err), apperr.Code(err), apperr.Public(err))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// prices are compared as numbers; a missing price is skipped by omitempty
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		nd, ok := field.Interface().(decimal.NullDecimal)
		if !ok || !nd.Valid {
			return nil
		}
		f, _ := nd.Decimal.Float64()
		return f
	}, decimal.NullDecimal{})
	return v
}

var errEmptyBody = fmt.Errorf("%w: request body is required", apperr.ErrValidation)

// decodeJSON reads exactly one JSON value into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: request body exceeds %d bytes", apperr.ErrValidation, tooLarge.Limit)
		default:
			return fmt.Errorf("%w: invalid JSON: %v", apperr.ErrValidation, err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", apperr.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %s validation", apperr.ErrValidation, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for actions whose body may be omitted.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

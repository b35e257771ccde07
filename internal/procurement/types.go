package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fleetops.org/internal/apperr"
)

// RequestStatus is the lifecycle state of a purchase request.
type RequestStatus string

const (
	RequestDraft     RequestStatus = "DRAFT"
	RequestSubmitted RequestStatus = "SUBMITTED"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestOrdered   RequestStatus = "ORDERED"
)

// OrderStatus is the fulfillment state of a purchase order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderReceived  OrderStatus = "RECEIVED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Category string

const (
	CategoryDeck       Category = "DECK"
	CategoryEngine     Category = "ENGINE"
	CategorySafety     Category = "SAFETY"
	CategoryProvisions Category = "PROVISIONS"
	CategoryCabin      Category = "CABIN"
	CategoryOffice     Category = "OFFICE"
	CategoryOther      Category = "OTHER"
)

var categories = map[Category]bool{
	CategoryDeck: true, CategoryEngine: true, CategorySafety: true, CategoryProvisions: true,
	CategoryCabin: true, CategoryOffice: true, CategoryOther: true,
}

// ParseCategory normalises s and rejects unknown categories.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return "", fmt.Errorf("%w: category is required", apperr.ErrValidation)
	}
	if !categories[c] {
		return "", fmt.Errorf("%w: unknown category %q", apperr.ErrValidation, s)
	}
	return c, nil
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority defaults an empty value to NORMAL.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", apperr.ErrValidation, s)
}

// PurchaseRequest is raised by a vessel and decided by shore staff.
type PurchaseRequest struct {
	ID              string        `json:"id"`
	Reference       string        `json:"reference"`
	VesselID        string        `json:"vessel_id"`
	CreatedBy       string        `json:"created_by"`
	Title           string        `json:"title"`
	Category        Category      `json:"category"`
	Priority        Priority      `json:"priority"`
	Notes           string        `json:"notes,omitempty"`
	Status          RequestStatus `json:"status"`
	Lines           []RequestLine `json:"lines"`
	DecidedBy       string        `json:"decided_by,omitempty"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Line returns the line with id.
func (pr PurchaseRequest) Line(id string) (RequestLine, bool) {
	for _, l := range pr.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return RequestLine{}, false
}

// RequestLine is a product line of a purchase request. Approved* are set on approval.
type RequestLine struct {
	ID               string              `json:"id"`
	Position         int                 `json:"position"`
	Description      string              `json:"description"`
	PartReference    string              `json:"part_reference,omitempty"`
	Unit             string              `json:"unit,omitempty"`
	Quantity         int                 `json:"quantity"`
	SuggestedPrice   decimal.NullDecimal `json:"suggested_price"`
	ApprovedQuantity *int                `json:"approved_quantity,omitempty"`
	ApprovedPrice    decimal.NullDecimal `json:"approved_price"`
}

// PurchaseOrder is generated from exactly one approved purchase request.
type PurchaseOrder struct {
	ID        string      `json:"id"`
	Reference string      `json:"reference"`
	RequestID string      `json:"request_id"`
	VesselID  string      `json:"vessel_id"`
	CreatedBy string      `json:"created_by"`
	Supplier  string      `json:"supplier,omitempty"`
	Status    OrderStatus `json:"status"`
	Lines     []OrderItem `json:"lines"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OrderItem is a PO line; RequestLineID names its source request line.
type OrderItem struct {
	ID                string              `json:"id"`
	Position          int                 `json:"position"`
	RequestLineID     string              `json:"request_line_id"`
	Description       string              `json:"description"`
	SupplierName      string              `json:"supplier_name,omitempty"`
	QuotedPrice       decimal.NullDecimal `json:"quoted_price"`
	ValidatedQuantity int                 `json:"validated_quantity"`
	Remark            string              `json:"remark,omitempty"`
}

// RequestFilter narrows ListRequests. Empty fields match everything.
type RequestFilter struct {
	Status   RequestStatus
	VesselID string
	Limit    int
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Status   OrderStatus
	VesselID string
	Limit    int
}

// NewRequest is the input for CreateRequest and UpdateDraft.
type NewRequest struct {
	Title    string
	Category string
	Priority string
	Notes    string
	Lines    []NewLine
	// Draft keeps the request editable instead of submitting it.
	Draft bool
}

type NewLine struct {
	Description    string
	PartReference  string
	Unit           string
	Quantity       int
	SuggestedPrice decimal.NullDecimal
}

// LineApproval carries the validated quantity and price for one request line.
type LineApproval struct {
	LineID   string
	Quantity int
	Price    decimal.NullDecimal
}

// OrderLine selects a request line for the generated PO.
type OrderLine struct {
	RequestLineID     string
	ValidatedQuantity int
	QuotedPrice       decimal.NullDecimal
	SupplierName      string
	Remark            string
}

// OrderLineUpdate patches the mutable fields of a PENDING order line. Nil fields are kept.
type OrderLineUpdate struct {
	ItemID            string
	SupplierName      *string
	QuotedPrice       *decimal.Decimal
	ValidatedQuantity *int
	Remark            *string
}

const defaultListLimit = 200

// ClampLimit bounds a list limit, defaulting to 200.
func ClampLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusDraft       OrderStatus = "draft"
	OrderStatusSubmitted   OrderStatus = "submitted"
	OrderStatusUnderReview OrderStatus = "under_review"
	OrderStatusApproved    OrderStatus = "approved"
	OrderStatusRejected    OrderStatus = "rejected"
	OrderStatusProcessing  OrderStatus = "processing"
	OrderStatusInTransit   OrderStatus = "in_transit"
	OrderStatusDelivered   OrderStatus = "delivered"
	OrderStatusCancelled   OrderStatus = "cancelled"
)

// orderStatusRank orders the fulfilment path. Rejected and cancelled are
// terminal side exits and never advanced by reconciliation.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusDraft:       0,
	OrderStatusSubmitted:   1,
	OrderStatusUnderReview: 2,
	OrderStatusApproved:    3,
	OrderStatusProcessing:  4,
	OrderStatusInTransit:   5,
	OrderStatusDelivered:   6,
}

type ComplianceStatus string

const (
	ComplianceStatusPending  ComplianceStatus = "pending"
	ComplianceStatusApproved ComplianceStatus = "approved"
	ComplianceStatusRejected ComplianceStatus = "rejected"
)

type OrderDetails struct {
	Title              string     `json:"title,omitempty"`
	OriginCountry      string     `json:"origin_country,omitempty"`
	DestinationCountry string     `json:"destination_country,omitempty"`
	PortOfLoading      string     `json:"port_of_loading,omitempty"`
	PortOfDischarge    string     `json:"port_of_discharge,omitempty"`
	Incoterm           string     `json:"incoterm,omitempty"`
	ShippingMode       string     `json:"shipping_mode,omitempty"`
	Currency           string     `json:"currency,omitempty"`
	ExpectedShipDate   *time.Time `json:"expected_ship_date,omitempty"`
}

type Product struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	Value    float64 `json:"value"`
	Weight   float64 `json:"weight,omitempty"`
	HSCode   string  `json:"hs_code,omitempty"`
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("product %q quantity must be positive", p.Name)
	}
	if p.Value < 0 || p.Weight < 0 {
		return fmt.Errorf("product %q value and weight must not be negative", p.Name)
	}
	return nil
}

// OrderDocuments holds references to TradeDocument ids, never document data.
type OrderDocuments struct {
	CommercialInvoice string   `json:"commercial_invoice,omitempty"`
	PackingList       string   `json:"packing_list,omitempty"`
	Certificates      []string `json:"certificates"`
	Other             []string `json:"other"`
}

func (d OrderDocuments) Count() int {
	n := len(d.Certificates) + len(d.Other)
	if d.CommercialInvoice != "" {
		n++
	}
	if d.PackingList != "" {
		n++
	}
	return n
}

type OrderCompliance struct {
	Status ComplianceStatus `json:"status"`
	Score  float64          `json:"score"`
	Issues []string         `json:"issues"`
}

type AuditEntry struct {
	ID             string    `json:"id"`
	Action         string    `json:"action"`
	ActorID        string    `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	Details        string    `json:"details,omitempty"`
}

func newAuditEntry(action, actorID, prev, next, details string, at time.Time) AuditEntry {
	return AuditEntry{
		ID:             uuid.NewString(),
		Action:         action,
		ActorID:        actorID,
		Timestamp:      at,
		PreviousStatus: prev,
		NewStatus:      next,
		Details:        details,
	}
}

type ShipmentOrder struct {
	ID                  string          `json:"id"`
	OrderNumber         string          `json:"order_number"`
	ExporterID          string          `json:"exporter_id"`
	ClientID            string          `json:"client_id,omitempty"`
	AssignedForwarderID string          `json:"assigned_forwarder_id,omitempty"`
	Status              OrderStatus     `json:"status"`
	Details             OrderDetails    `json:"order_details"`
	Products            []Product       `json:"products"`
	Documents           OrderDocuments  `json:"documents"`
	Compliance          OrderCompliance `json:"compliance"`
	Notes               string          `json:"notes,omitempty"`
	AuditTrail          []AuditEntry    `json:"audit_trail"`
	Version             int             `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewOrderNumber renders SO-YYYYMMDD-XXXXXXXX with a random suffix.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SO-%s-%s", at.UTC().Format("20060102"), suffix)
}

func (o *ShipmentOrder) AppendAudit(action, actorID string, prev, next OrderStatus, details string, at time.Time) {
	o.AuditTrail = append(o.AuditTrail, newAuditEntry(action, actorID, string(prev), string(next), details, at))
}

func (o *ShipmentOrder) HasDocuments() bool {
	return o.Documents.Count() > 0
}

// AttachDocument places a document reference into the slot named by its
// document type. Invoices and packing lists occupy a single slot.
func (o *ShipmentOrder) AttachDocument(documentID, documentType string) error {
	if o.Status != OrderStatusDraft {
		return Fail(ErrInvalidState, "attach document", "documents can only be attached to draft orders")
	}
	if strings.TrimSpace(documentID) == "" {
		return Fail(ErrInvalidInput, "attach document", "document id is required")
	}
	switch normalized := strings.ToLower(strings.TrimSpace(documentType)); {
	case normalized == "commercial_invoice" || normalized == "invoice":
		o.Documents.CommercialInvoice = documentID
	case normalized == "packing_list":
		o.Documents.PackingList = documentID
	case strings.HasPrefix(normalized, "certificate"):
		o.Documents.Certificates = appendUnique(o.Documents.Certificates, documentID)
	default:
		o.Documents.Other = appendUnique(o.Documents.Other, documentID)
	}
	return nil
}

// CheckSubmittable validates everything submit needs from the order itself.
func (o *ShipmentOrder) CheckSubmittable() error {
	if o.Status != OrderStatusDraft {
		return Fail(ErrInvalidState, "submit order", "only draft orders can be submitted")
	}
	if len(o.Products) == 0 {
		return Fail(ErrInvalidInput, "submit order", "at least one product is required before submission")
	}
	if !o.HasDocuments() {
		return Fail(ErrInvalidInput, "submit order", "at least one document must be attached before submission")
	}
	return nil
}

// Approve applies the submission gate: draft goes straight to approved.
func (o *ShipmentOrder) Approve(actorID string, forwarder *User, at time.Time) error {
	if err := o.CheckSubmittable(); err != nil {
		return err
	}
	if forwarder == nil || forwarder.ID == "" {
		return Fail(ErrBusinessRule, "submit order", "no forwarder available for assignment")
	}
	prev := o.Status
	o.AssignedForwarderID = forwarder.ID
	o.Status = OrderStatusApproved
	o.Compliance.Status = ComplianceStatusApproved
	o.AppendAudit("submitted", actorID, prev, o.Status,
		fmt.Sprintf("auto-approved and assigned to forwarder %s (%s)", forwarder.DisplayName(), forwarder.ID), at)
	o.UpdatedAt = at
	return nil
}

// AdvanceTo moves the order forward along the fulfilment path. It reports
// false and leaves the order untouched when the target is not ahead.
func (o *ShipmentOrder) AdvanceTo(target OrderStatus) bool {
	current, ok := orderStatusRank[o.Status]
	if !ok {
		return false
	}
	next, ok := orderStatusRank[target]
	if !ok || next <= current {
		return false
	}
	o.Status = target
	return true
}

func (o *ShipmentOrder) AccessibleBy(actor *User, capability Capability) bool {
	if actor == nil {
		return false
	}
	switch capability {
	case CapOrderView:
		return o.ExporterID == actor.ID || o.AssignedForwarderID == actor.ID || actor.Role == RoleCA
	case CapOrderUpdate, CapOrderSubmit, CapDocumentUpload:
		return o.ExporterID == actor.ID
	case CapAssignStages:
		return actor.IsAdminForwarder() && o.AssignedForwarderID == actor.ID
	default:
		return false
	}
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

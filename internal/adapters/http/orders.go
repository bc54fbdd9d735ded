package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

type orderDetailsRequest struct {
	Title              string     `json:"title"`
	OriginCountry      string     `json:"originCountry"`
	DestinationCountry string     `json:"destinationCountry"`
	PortOfLoading      string     `json:"portOfLoading"`
	PortOfDischarge    string     `json:"portOfDischarge"`
	Incoterm           string     `json:"incoterm"`
	ShippingMode       string     `json:"shippingMode"`
	Currency           string     `json:"currency"`
	ExpectedShipDate   *time.Time `json:"expectedShipDate"`
}

type productRequest struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Value    float64 `json:"value"`
	Weight   float64 `json:"weight"`
	HSCode   string  `json:"hsCode"`
}

type orderRequest struct {
	OrderDetails orderDetailsRequest `json:"orderDetails"`
	Products     []productRequest    `json:"products"`
	Client       string              `json:"client"`
	Notes        string              `json:"notes"`
}

func (req orderRequest) toInput() ports.OrderInput {
	products := make([]domain.Product, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, domain.Product{
			Name:     strings.TrimSpace(p.Name),
			Quantity: p.Quantity,
			Unit:     p.Unit,
			Value:    p.Value,
			Weight:   p.Weight,
			HSCode:   p.HSCode,
		})
	}
	d := req.OrderDetails
	return ports.OrderInput{
		ClientID: strings.TrimSpace(req.Client),
		Details: domain.OrderDetails{
			Title:              d.Title,
			OriginCountry:      d.OriginCountry,
			DestinationCountry: d.DestinationCountry,
			PortOfLoading:      d.PortOfLoading,
			PortOfDischarge:    d.PortOfDischarge,
			Incoterm:           d.Incoterm,
			ShippingMode:       d.ShippingMode,
			Currency:           d.Currency,
			ExpectedShipDate:   d.ExpectedShipDate,
		},
		Products: products,
		Notes:    req.Notes,
	}
}

type attachDocumentRequest struct {
	DocumentID string `json:"documentId"`
}

type stageAssignmentRequest struct {
	Stage       string `json:"stage"`
	ForwarderID string `json:"forwarderId"`
	Notes       string `json:"notes"`
}

type assignStagesRequest struct {
	StageAssignments    []stageAssignmentRequest `json:"stageAssignments"`
	EstimatedCompletion *time.Time               `json:"estimatedCompletion"`
}

func (rt *Router) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode order", err))
		return
	}
	order, err := rt.services.Orders.Create(r.Context(), actorFromContext(r.Context()), req.toInput())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordOrderEvent("created")
	writeSuccess(w, http.StatusCreated, "shipment order created", order)
}

func (rt *Router) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := rt.services.Orders.List(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "shipment orders", orders)
}

func (rt *Router) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := rt.services.Orders.Get(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "shipment order", order)
}

func (rt *Router) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode order", err))
		return
	}
	order, err := rt.services.Orders.Update(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), req.toInput())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordOrderEvent("updated")
	writeSuccess(w, http.StatusOK, "shipment order updated", order)
}

func (rt *Router) attachOrderDocument(w http.ResponseWriter, r *http.Request) {
	var req attachDocumentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode attach document", err))
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		rt.writeError(w, r, domain.Fail(domain.ErrInvalidInput, "attach document", "documentId is required"))
		return
	}
	order, err := rt.services.Orders.AttachDocument(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), req.DocumentID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "document attached", order)
}

func (rt *Router) submitOrder(w http.ResponseWriter, r *http.Request) {
	order, err := rt.services.Orders.Submit(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()))
	if err != nil {
		rt.recordOrderEvent("submit_rejected")
		rt.writeError(w, r, err)
		return
	}
	rt.recordOrderEvent("approved")
	writeSuccess(w, http.StatusOK, "shipment order submitted and approved", order)
}

func (rt *Router) assignStages(w http.ResponseWriter, r *http.Request) {
	var req assignStagesRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode stage assignments", err))
		return
	}
	request := ports.AssignStagesRequest{
		Stages:              make([]ports.StageAssignmentInput, 0, len(req.StageAssignments)),
		EstimatedCompletion: req.EstimatedCompletion,
	}
	for _, entry := range req.StageAssignments {
		request.Stages = append(request.Stages, ports.StageAssignmentInput{
			Stage:       domain.Stage(strings.TrimSpace(entry.Stage)),
			ForwarderID: strings.TrimSpace(entry.ForwarderID),
			Notes:       entry.Notes,
		})
	}

	assignment, err := rt.services.Stages.AssignStages(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), request)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	for _, entry := range assignment.AssignedForwarders {
		rt.recordStageTransition(string(entry.Stage), string(entry.Status))
	}
	writeSuccess(w, http.StatusOK, "stages assigned", assignment)
}

func (rt *Router) getOrderAssignment(w http.ResponseWriter, r *http.Request) {
	assignment, err := rt.services.Lifecycle.GetForOrder(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "forwarder assignment", assignment)
}

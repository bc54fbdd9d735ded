package domain

import "strings"

// Capability names an action on a resource kind, formatted "object:action".
type Capability string

const (
	CapOrderCreate     Capability = "shipment_order:create"
	CapOrderView       Capability = "shipment_order:view"
	CapOrderUpdate     Capability = "shipment_order:update"
	CapOrderSubmit     Capability = "shipment_order:submit"
	CapAssignStages    Capability = "shipment_order:assign_stages"
	CapStageOperate    Capability = "forwarder_assignment:operate"
	CapAssignmentView  Capability = "forwarder_assignment:view"
	CapDocumentUpload  Capability = "document:upload"
	CapDocumentView    Capability = "document:view"
	CapDocumentProcess Capability = "document:process"
	CapQuotaManage     Capability = "ai_quota:manage"
	CapQuotaView       Capability = "ai_quota:view"
)

func (c Capability) Object() string {
	object, _, _ := strings.Cut(string(c), ":")
	return object
}

func (c Capability) Action() string {
	_, action, _ := strings.Cut(string(c), ":")
	return action
}

// Resource is implemented by entities that carry their own ownership rules.
type Resource interface {
	AccessibleBy(actor *User, capability Capability) bool
}

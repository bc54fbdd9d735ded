package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// roleForwarderAdmin is the effective role of a forwarder who distributes
// stages. It inherits everything a plain forwarder may do.
const roleForwarderAdmin = "forwarder_admin"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

var defaultPolicies = [][]string{
	{string(domain.RoleAdmin), "*", "*"},

	{string(domain.RoleExporter), "shipment_order", "create"},
	{string(domain.RoleExporter), "shipment_order", "view"},
	{string(domain.RoleExporter), "shipment_order", "update"},
	{string(domain.RoleExporter), "shipment_order", "submit"},
	{string(domain.RoleExporter), "forwarder_assignment", "view"},
	{string(domain.RoleExporter), "document", "upload"},
	{string(domain.RoleExporter), "document", "view"},
	{string(domain.RoleExporter), "document", "process"},
	{string(domain.RoleExporter), "ai_quota", "view"},

	{string(domain.RoleForwarder), "shipment_order", "view"},
	{string(domain.RoleForwarder), "forwarder_assignment", "view"},
	{string(domain.RoleForwarder), "forwarder_assignment", "operate"},
	{string(domain.RoleForwarder), "ai_quota", "view"},
	{roleForwarderAdmin, "shipment_order", "assign_stages"},

	{string(domain.RoleCA), "shipment_order", "view"},
	{string(domain.RoleCA), "forwarder_assignment", "view"},
	{string(domain.RoleCA), "document", "view"},
	{string(domain.RoleCA), "ai_quota", "view"},
}

// partyBound capabilities act on behalf of the order's own parties. The
// admin role passes their role gate but never their ownership rule.
var partyBound = map[domain.Capability]bool{
	domain.CapOrderUpdate:    true,
	domain.CapOrderSubmit:    true,
	domain.CapDocumentUpload: true,
	domain.CapAssignStages:   true,
	domain.CapStageOperate:   true,
}

// Policy answers capability checks in two stages: a casbin role gate on
// the capability, then the resource's own ownership rule.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse rbac model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create rbac enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("load rbac policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicy(roleForwarderAdmin, string(domain.RoleForwarder)); err != nil {
		return nil, fmt.Errorf("load rbac role links: %w", err)
	}
	return &Policy{enforcer: enforcer}, nil
}

func (p *Policy) Check(actor *domain.User, resource domain.Resource, capability domain.Capability) error {
	const op = "check access"
	if actor == nil || actor.ID == "" {
		return domain.Fail(domain.ErrUnauthorized, op, "authentication required")
	}
	if !actor.IsActive() {
		return domain.Fail(domain.ErrForbidden, op, "account is not active")
	}

	subject := effectiveRole(actor)
	allowed, err := p.enforcer.Enforce(subject, capability.Object(), capability.Action())
	if err != nil {
		return fmt.Errorf("%s: enforce %s: %w", op, capability, err)
	}
	if !allowed {
		return domain.Fail(domain.ErrForbidden, op, fmt.Sprintf("role %s may not %s", subject, capability))
	}

	if resource == nil || (actor.Role == domain.RoleAdmin && !partyBound[capability]) {
		return nil
	}
	if !resource.AccessibleBy(actor, capability) {
		return domain.Fail(domain.ErrForbidden, op, fmt.Sprintf("%s denied on this %s", capability.Action(), capability.Object()))
	}
	return nil
}

func effectiveRole(actor *domain.User) string {
	if actor.IsAdminForwarder() {
		return roleForwarderAdmin
	}
	return string(actor.Role)
}

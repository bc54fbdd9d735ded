package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

type StageAssignmentUseCase struct {
	orders      ports.ShipmentOrderRepository
	assignments ports.ForwarderAssignmentRepository
	users       ports.UserRepository
	policy      ports.AccessPolicy
	now         func() time.Time
}

func NewStageAssignmentUseCase(
	orders ports.ShipmentOrderRepository,
	assignments ports.ForwarderAssignmentRepository,
	users ports.UserRepository,
	policy ports.AccessPolicy,
) *StageAssignmentUseCase {
	return &StageAssignmentUseCase{
		orders:      orders,
		assignments: assignments,
		users:       users,
		policy:      policy,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AssignStages replaces the stage split for an order. Every forwarder is
// resolved before anything is written, so a bad entry leaves the stored
// assignment as it was.
func (uc *StageAssignmentUseCase) AssignStages(
	ctx context.Context,
	orderID string,
	actor *domain.User,
	request ports.AssignStagesRequest,
) (*domain.ForwarderAssignment, error) {
	if err := uc.policy.Check(actor, nil, domain.CapAssignStages); err != nil {
		return nil, err
	}
	if len(request.Stages) == 0 {
		return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", "at least one stage assignment is required")
	}

	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch shipment order by id: %w", err)
	}
	if err := uc.policy.Check(actor, order, domain.CapAssignStages); err != nil {
		return nil, err
	}

	entries, err := uc.resolveEntries(ctx, request.Stages)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	assignment, err := uc.assignments.GetByOrderID(ctx, order.ID)
	isNew := false
	switch {
	case err == nil:
	case domain.IsKind(err, domain.ErrNotFound):
		assignment = domain.NewForwarderAssignment(order.ID, actor.ID, now)
		isNew = true
	default:
		return nil, fmt.Errorf("fetch forwarder assignment by order: %w", err)
	}

	if err := assignment.ReplaceStages(entries, actor.ID, request.EstimatedCompletion, now); err != nil {
		return nil, err
	}

	if isNew {
		if err := uc.assignments.Create(ctx, assignment); err != nil {
			return nil, fmt.Errorf("create forwarder assignment: %w", err)
		}
		return assignment, nil
	}
	if err := uc.assignments.Update(ctx, assignment); err != nil {
		return nil, fmt.Errorf("update forwarder assignment: %w", err)
	}
	return assignment, nil
}

func (uc *StageAssignmentUseCase) resolveEntries(ctx context.Context, inputs []ports.StageAssignmentInput) ([]domain.SubAssignment, error) {
	resolved := make(map[string]*domain.User, len(inputs))
	entries := make([]domain.SubAssignment, 0, len(inputs))
	for _, input := range inputs {
		forwarderID := strings.TrimSpace(input.ForwarderID)
		if !input.Stage.Valid() {
			return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", fmt.Sprintf("unknown stage %q", input.Stage))
		}
		if forwarderID == "" {
			return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", fmt.Sprintf("forwarder id is required for stage %s", input.Stage))
		}

		forwarder, ok := resolved[forwarderID]
		if !ok {
			var err error
			forwarder, err = uc.lookupForwarder(ctx, forwarderID)
			if err != nil {
				return nil, err
			}
			resolved[forwarderID] = forwarder
		}

		entries = append(entries, domain.SubAssignment{
			Stage:         input.Stage,
			ForwarderID:   forwarder.ID,
			ForwarderName: forwarder.DisplayName(),
			Notes:         input.Notes,
		})
	}
	return entries, nil
}

func (uc *StageAssignmentUseCase) lookupForwarder(ctx context.Context, forwarderID string) (*domain.User, error) {
	user, err := uc.users.GetByID(ctx, forwarderID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", fmt.Sprintf("forwarder %s does not exist", forwarderID))
		}
		return nil, fmt.Errorf("fetch forwarder by id: %w", err)
	}
	if user.Role != domain.RoleForwarder {
		return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", fmt.Sprintf("user %s is not a forwarder", forwarderID))
	}
	if user.IsAdminForwarder() {
		return nil, domain.Fail(domain.ErrInvalidInput, "assign stages", fmt.Sprintf("user %s is an admin forwarder and cannot take a stage", forwarderID))
	}
	return user, nil
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

const reconcileAttempts = 3

type StageLifecycleUseCase struct {
	assignments ports.ForwarderAssignmentRepository
	orders      ports.ShipmentOrderRepository
	policy      ports.AccessPolicy
	now         func() time.Time
}

func NewStageLifecycleUseCase(
	assignments ports.ForwarderAssignmentRepository,
	orders ports.ShipmentOrderRepository,
	policy ports.AccessPolicy,
) *StageLifecycleUseCase {
	return &StageLifecycleUseCase{
		assignments: assignments,
		orders:      orders,
		policy:      policy,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (uc *StageLifecycleUseCase) Start(ctx context.Context, assignmentID string, stage domain.Stage, actor *domain.User) (*domain.ForwarderAssignment, error) {
	return uc.mutate(ctx, assignmentID, actor, func(a *domain.ForwarderAssignment, at time.Time) error {
		return a.StartStage(stage, actor.ID, at)
	})
}

func (uc *StageLifecycleUseCase) UpdateStatus(ctx context.Context, assignmentID string, actor *domain.User, update domain.StageUpdate) (*domain.ForwarderAssignment, error) {
	return uc.mutate(ctx, assignmentID, actor, func(a *domain.ForwarderAssignment, at time.Time) error {
		return a.UpdateStageStatus(update, actor.ID, at)
	})
}

func (uc *StageLifecycleUseCase) Complete(ctx context.Context, assignmentID string, stage domain.Stage, actor *domain.User, notes string) (*domain.ForwarderAssignment, error) {
	return uc.mutate(ctx, assignmentID, actor, func(a *domain.ForwarderAssignment, at time.Time) error {
		return a.CompleteStage(stage, actor.ID, notes, at)
	})
}

// mutate loads, authorizes, applies and persists one stage transition and
// then brings the parent order in line with the stage progress.
func (uc *StageLifecycleUseCase) mutate(
	ctx context.Context,
	assignmentID string,
	actor *domain.User,
	apply func(*domain.ForwarderAssignment, time.Time) error,
) (*domain.ForwarderAssignment, error) {
	assignment, err := uc.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("fetch forwarder assignment by id: %w", err)
	}
	if err := uc.policy.Check(actor, assignment, domain.CapStageOperate); err != nil {
		return nil, err
	}
	if err := apply(assignment, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.assignments.Update(ctx, assignment); err != nil {
		return nil, fmt.Errorf("update forwarder assignment: %w", err)
	}

	uc.reconcileOrder(ctx, assignment, actor.ID)
	return assignment, nil
}

// reconcileOrder is best effort. The stage write has already succeeded, so
// failures here are logged and never surfaced to the caller.
func (uc *StageLifecycleUseCase) reconcileOrder(ctx context.Context, assignment *domain.ForwarderAssignment, actorID string) {
	target, ok := assignment.OrderTarget()
	if !ok {
		return
	}

	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		order, err := uc.orders.GetByID(ctx, assignment.OrderID)
		if err != nil {
			slog.Warn("order_reconcile_failed",
				"order_id", assignment.OrderID,
				"assignment_id", assignment.ID,
				"error", err.Error(),
			)
			return
		}
		prev := order.Status
		if !order.AdvanceTo(target) {
			return
		}
		now := uc.now()
		order.AppendAudit("status_reconciled", actorID, prev, order.Status,
			fmt.Sprintf("stage progress of assignment %s", assignment.ID), now)
		order.UpdatedAt = now

		err = uc.orders.Update(ctx, order)
		if err == nil {
			slog.Info("order_reconciled",
				"order_id", order.ID,
				"from", string(prev),
				"to", string(order.Status),
			)
			return
		}
		if !domain.IsKind(err, domain.ErrConflict) {
			slog.Warn("order_reconcile_failed",
				"order_id", order.ID,
				"assignment_id", assignment.ID,
				"error", err.Error(),
			)
			return
		}
	}
	slog.Warn("order_reconcile_conflict",
		"order_id", assignment.OrderID,
		"assignment_id", assignment.ID,
		"attempts", reconcileAttempts,
	)
}

func (uc *StageLifecycleUseCase) Get(ctx context.Context, assignmentID string, actor *domain.User) (*domain.ForwarderAssignment, error) {
	assignment, err := uc.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("fetch forwarder assignment by id: %w", err)
	}
	if err := uc.policy.Check(actor, assignment, domain.CapAssignmentView); err != nil {
		return nil, err
	}
	return assignment, nil
}

// GetForOrder is readable by anyone on the assignment and by anyone who may
// view the order itself.
func (uc *StageLifecycleUseCase) GetForOrder(ctx context.Context, orderID string, actor *domain.User) (*domain.ForwarderAssignment, error) {
	assignment, err := uc.assignments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch forwarder assignment by order: %w", err)
	}
	if err := uc.policy.Check(actor, assignment, domain.CapAssignmentView); err == nil {
		return assignment, nil
	} else if !domain.IsKind(err, domain.ErrForbidden) {
		return nil, err
	}

	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch shipment order by id: %w", err)
	}
	if err := uc.policy.Check(actor, order, domain.CapOrderView); err != nil {
		return nil, err
	}
	return assignment, nil
}

func (uc *StageLifecycleUseCase) MyTasks(ctx context.Context, actor *domain.User) ([]ports.ForwarderTask, error) {
	if err := uc.policy.Check(actor, nil, domain.CapStageOperate); err != nil {
		return nil, err
	}
	assignments, err := uc.assignments.ListByForwarder(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list assignments by forwarder: %w", err)
	}

	numbers := uc.orderNumbers(ctx, assignments)
	tasks := make([]ports.ForwarderTask, 0, len(assignments))
	for _, assignment := range assignments {
		for _, entry := range assignment.AssignedForwarders {
			if entry.ForwarderID != actor.ID {
				continue
			}
			tasks = append(tasks, ports.ForwarderTask{
				AssignmentID:     assignment.ID,
				OrderID:          assignment.OrderID,
				OrderNumber:      numbers[assignment.OrderID],
				AssignmentStatus: assignment.Status,
				CurrentStage:     assignment.CurrentStage,
				Task:             entry,
			})
		}
	}
	return tasks, nil
}

// WorkflowStatus summarizes the assignments an admin forwarder distributed,
// or the ones a stage forwarder takes part in.
func (uc *StageLifecycleUseCase) WorkflowStatus(ctx context.Context, actor *domain.User) (*ports.WorkflowStatus, error) {
	if err := uc.policy.Check(actor, nil, domain.CapAssignmentView); err != nil {
		return nil, err
	}

	var (
		assignments []domain.ForwarderAssignment
		err         error
	)
	if actor.IsAdminForwarder() {
		assignments, err = uc.assignments.ListByAssigner(ctx, actor.ID)
	} else {
		assignments, err = uc.assignments.ListByForwarder(ctx, actor.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("list assignments for workflow status: %w", err)
	}

	numbers := uc.orderNumbers(ctx, assignments)
	status := &ports.WorkflowStatus{
		Total:       len(assignments),
		ByStatus:    make(map[domain.AssignmentStatus]int),
		ByStage:     make(map[domain.Stage]map[domain.StageStatus]int),
		Assignments: make([]ports.WorkflowSummary, 0, len(assignments)),
	}
	for _, assignment := range assignments {
		status.ByStatus[assignment.Status]++
		summary := ports.WorkflowSummary{
			AssignmentID: assignment.ID,
			OrderID:      assignment.OrderID,
			OrderNumber:  numbers[assignment.OrderID],
			Status:       assignment.Status,
			CurrentStage: assignment.CurrentStage,
			Stages:       make(map[domain.Stage]domain.StageStatus, len(assignment.AssignedForwarders)),
		}
		for _, entry := range assignment.AssignedForwarders {
			summary.Stages[entry.Stage] = entry.Status
			if status.ByStage[entry.Stage] == nil {
				status.ByStage[entry.Stage] = make(map[domain.StageStatus]int)
			}
			status.ByStage[entry.Stage][entry.Status]++
		}
		status.Assignments = append(status.Assignments, summary)
	}
	return status, nil
}

// orderNumbers decorates listings. A missing order only blanks its number.
func (uc *StageLifecycleUseCase) orderNumbers(ctx context.Context, assignments []domain.ForwarderAssignment) map[string]string {
	numbers := make(map[string]string, len(assignments))
	for _, assignment := range assignments {
		if _, seen := numbers[assignment.OrderID]; seen {
			continue
		}
		order, err := uc.orders.GetByID(ctx, assignment.OrderID)
		if err != nil {
			numbers[assignment.OrderID] = ""
			continue
		}
		numbers[assignment.OrderID] = order.OrderNumber
	}
	return numbers
}

package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StagePickup      Stage = "pickup"
	StageTransit     Stage = "transit"
	StagePortLoading Stage = "port_loading"
	StageOnShip      Stage = "on_ship"
	StageDestination Stage = "destination"
)

// Stages lists the fulfilment stages in their physical order.
var Stages = []Stage{StagePickup, StageTransit, StagePortLoading, StageOnShip, StageDestination}

func (s Stage) Valid() bool {
	return s.position() >= 0
}

func (s Stage) position() int {
	for idx, stage := range Stages {
		if stage == s {
			return idx
		}
	}
	return -1
}

type StageStatus string

const (
	StageStatusAssigned   StageStatus = "assigned"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusCancelled  StageStatus = "cancelled"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusAssigned, StageStatusInProgress, StageStatusCompleted, StageStatusCancelled:
		return true
	default:
		return false
	}
}

func (s StageStatus) terminal() bool {
	return s == StageStatusCompleted || s == StageStatusCancelled
}

type AssignmentStatus string

const (
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
	AssignmentStatusCancelled  AssignmentStatus = "cancelled"
)

type SubAssignment struct {
	Stage         Stage       `json:"stage"`
	ForwarderID   string      `json:"forwarder_id"`
	ForwarderName string      `json:"forwarder_name"`
	Status        StageStatus `json:"status"`
	AssignedAt    time.Time   `json:"assigned_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	Location      string      `json:"location,omitempty"`
	Documents     []string    `json:"documents"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TrackingEntry struct {
	ID          string      `json:"id"`
	Stage       Stage       `json:"stage"`
	Status      StageStatus `json:"status"`
	Location    string      `json:"location,omitempty"`
	Coordinates *GeoPoint   `json:"coordinates,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	ActorID     string      `json:"actor_id"`
	Timestamp   time.Time   `json:"timestamp"`
}

type Milestone struct {
	Name      string    `json:"name"`
	Stage     Stage     `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Timeline struct {
	AssignedAt          time.Time   `json:"assigned_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
	ActualCompletion    *time.Time  `json:"actual_completion,omitempty"`
	Milestones          []Milestone `json:"milestones"`
}

type ForwarderAssignment struct {
	ID                 string           `json:"id"`
	OrderID            string           `json:"order_id"`
	AssignedBy         string           `json:"assigned_by"`
	CurrentStage       Stage            `json:"current_stage"`
	Status             AssignmentStatus `json:"status"`
	AssignedForwarders []SubAssignment  `json:"assigned_forwarders"`
	TrackingLog        []TrackingEntry  `json:"tracking_log"`
	Timeline           Timeline         `json:"timeline"`
	AuditTrail         []AuditEntry     `json:"audit_trail"`
	Version            int              `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// StageUpdate carries the optional fields a forwarder reports with a status change.
type StageUpdate struct {
	Stage       Stage
	Status      StageStatus
	Location    string
	Notes       string
	Coordinates *GeoPoint
	Documents   []string
}

func NewForwarderAssignment(orderID, assignedBy string, at time.Time) *ForwarderAssignment {
	return &ForwarderAssignment{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		AssignedBy:         assignedBy,
		CurrentStage:       StagePickup,
		Status:             AssignmentStatusAssigned,
		AssignedForwarders: []SubAssignment{},
		TrackingLog:        []TrackingEntry{},
		Timeline:           Timeline{AssignedAt: at, Milestones: []Milestone{}},
		AuditTrail:         []AuditEntry{},
		CreatedAt:          at,
		UpdatedAt:          at,
	}
}

// ReplaceStages swaps the whole sub-assignment list for the given entries.
// Stages absent from entries are dropped.
func (a *ForwarderAssignment) ReplaceStages(entries []SubAssignment, actorID string, estimated *time.Time, at time.Time) error {
	if len(entries) == 0 {
		return Fail(ErrInvalidInput, "assign stages", "at least one stage assignment is required")
	}
	seen := make(map[Stage]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.Stage.Valid() {
			return Fail(ErrInvalidInput, "assign stages", fmt.Sprintf("unknown stage %q", entry.Stage))
		}
		if strings.TrimSpace(entry.ForwarderID) == "" {
			return Fail(ErrInvalidInput, "assign stages", fmt.Sprintf("forwarder id is required for stage %s", entry.Stage))
		}
		if _, dup := seen[entry.Stage]; dup {
			return Fail(ErrInvalidInput, "assign stages", fmt.Sprintf("stage %s assigned more than once", entry.Stage))
		}
		seen[entry.Stage] = struct{}{}
	}

	replaced := make([]SubAssignment, 0, len(entries))
	for _, entry := range entries {
		replaced = append(replaced, SubAssignment{
			Stage:         entry.Stage,
			ForwarderID:   entry.ForwarderID,
			ForwarderName: entry.ForwarderName,
			Status:        StageStatusAssigned,
			AssignedAt:    at,
			Notes:         entry.Notes,
			Documents:     []string{},
		})
	}
	sort.SliceStable(replaced, func(i, j int) bool {
		return replaced[i].Stage.position() < replaced[j].Stage.position()
	})

	prev := a.Status
	a.AssignedForwarders = replaced
	a.AssignedBy = actorID
	a.CurrentStage = replaced[0].Stage
	a.Status = AssignmentStatusAssigned
	a.Timeline.AssignedAt = at
	a.Timeline.StartedAt = nil
	a.Timeline.ActualCompletion = nil
	a.Timeline.EstimatedCompletion = estimated

	summary := make([]string, 0, len(replaced))
	for _, entry := range replaced {
		summary = append(summary, fmt.Sprintf("%s=%s", entry.Stage, entry.ForwarderID))
	}
	a.AuditTrail = append(a.AuditTrail, newAuditEntry(
		"stages_assigned", actorID, string(prev), string(a.Status),
		fmt.Sprintf("%d stage(s) assigned: %s", len(replaced), strings.Join(summary, ", ")), at,
	))
	a.UpdatedAt = at
	return nil
}

// StageFor returns the sub-assignment for the stage, or nil.
func (a *ForwarderAssignment) StageFor(stage Stage) *SubAssignment {
	for idx := range a.AssignedForwarders {
		if a.AssignedForwarders[idx].Stage == stage {
			return &a.AssignedForwarders[idx]
		}
	}
	return nil
}

// ownedStage resolves the sub-assignment the actor is allowed to operate.
func (a *ForwarderAssignment) ownedStage(operation string, stage Stage, actorID string) (*SubAssignment, error) {
	if !stage.Valid() {
		return nil, Fail(ErrInvalidInput, operation, fmt.Sprintf("unknown stage %q", stage))
	}
	entry := a.StageFor(stage)
	if entry == nil {
		return nil, Fail(ErrNotFound, operation, fmt.Sprintf("stage %s is not assigned", stage))
	}
	if entry.ForwarderID != actorID {
		return nil, Fail(ErrForbidden, operation, fmt.Sprintf("stage %s is assigned to another forwarder", stage))
	}
	return entry, nil
}

func (a *ForwarderAssignment) StartStage(stage Stage, actorID string, at time.Time) error {
	entry, err := a.ownedStage("start stage", stage, actorID)
	if err != nil {
		return err
	}
	if entry.Status != StageStatusAssigned {
		return Fail(ErrInvalidState, "start stage", fmt.Sprintf("stage %s is %s, only assigned stages can be started", stage, entry.Status))
	}

	prevStatus := entry.Status
	entry.Status = StageStatusInProgress
	entry.StartedAt = timePtr(at)
	a.CurrentStage = stage
	a.markStarted(at)
	a.track(entry, actorID, "", nil, "stage started", at)
	a.audit("stage_started", actorID, stage, prevStatus, entry.Status, at)
	a.UpdatedAt = at
	return nil
}

func (a *ForwarderAssignment) UpdateStageStatus(update StageUpdate, actorID string, at time.Time) error {
	if !update.Status.Valid() {
		return Fail(ErrInvalidInput, "update stage status", fmt.Sprintf("unknown stage status %q", update.Status))
	}
	entry, err := a.ownedStage("update stage status", update.Stage, actorID)
	if err != nil {
		return err
	}
	if entry.Status.terminal() && update.Status != entry.Status {
		return Fail(ErrInvalidState, "update stage status", fmt.Sprintf("stage %s is already %s", update.Stage, entry.Status))
	}

	prevStatus := entry.Status
	entry.Status = update.Status
	if update.Location != "" {
		entry.Location = update.Location
	}
	if update.Notes != "" {
		entry.Notes = update.Notes
	}
	for _, doc := range update.Documents {
		if strings.TrimSpace(doc) != "" {
			entry.Documents = appendUnique(entry.Documents, doc)
		}
	}
	if update.Status == StageStatusInProgress || update.Status == StageStatusCompleted {
		if entry.StartedAt == nil {
			entry.StartedAt = timePtr(at)
		}
		a.CurrentStage = update.Stage
		a.markStarted(at)
	}
	if update.Status == StageStatusCompleted && prevStatus != StageStatusCompleted {
		a.completeEntry(entry, at)
	}

	a.track(entry, actorID, update.Location, update.Coordinates, update.Notes, at)
	a.audit("stage_status_updated", actorID, update.Stage, prevStatus, entry.Status, at)
	a.recomputeOverall(at)
	a.UpdatedAt = at
	return nil
}

func (a *ForwarderAssignment) CompleteStage(stage Stage, actorID, notes string, at time.Time) error {
	entry, err := a.ownedStage("complete stage", stage, actorID)
	if err != nil {
		return err
	}
	if entry.Status != StageStatusInProgress {
		return Fail(ErrInvalidState, "complete stage", fmt.Sprintf("stage %s is %s, only in-progress stages can be completed", stage, entry.Status))
	}

	prevStatus := entry.Status
	entry.Status = StageStatusCompleted
	if notes != "" {
		entry.Notes = notes
	}
	a.completeEntry(entry, at)
	a.track(entry, actorID, "", nil, firstNonEmpty(notes, "stage completed"), at)
	a.audit("stage_completed", actorID, stage, prevStatus, entry.Status, at)
	a.recomputeOverall(at)
	a.UpdatedAt = at
	return nil
}

func (a *ForwarderAssignment) AllStagesCompleted() bool {
	if len(a.AssignedForwarders) == 0 {
		return false
	}
	for _, entry := range a.AssignedForwarders {
		if entry.Status != StageStatusCompleted {
			return false
		}
	}
	return true
}

func (a *ForwarderAssignment) AnyStageInProgress() bool {
	for _, entry := range a.AssignedForwarders {
		if entry.Status == StageStatusInProgress {
			return true
		}
	}
	return false
}

// OrderTarget is the order status the stage progress implies, if any.
func (a *ForwarderAssignment) OrderTarget() (OrderStatus, bool) {
	switch {
	case a.AllStagesCompleted():
		return OrderStatusInTransit, true
	case a.AnyStageInProgress():
		return OrderStatusProcessing, true
	default:
		return "", false
	}
}

func (a *ForwarderAssignment) HasForwarder(forwarderID string) bool {
	for _, entry := range a.AssignedForwarders {
		if entry.ForwarderID == forwarderID {
			return true
		}
	}
	return false
}

func (a *ForwarderAssignment) AccessibleBy(actor *User, capability Capability) bool {
	if actor == nil {
		return false
	}
	switch capability {
	case CapStageOperate:
		return a.HasForwarder(actor.ID)
	case CapAssignmentView:
		return a.AssignedBy == actor.ID || a.HasForwarder(actor.ID)
	default:
		return false
	}
}

func (a *ForwarderAssignment) markStarted(at time.Time) {
	if a.Status == AssignmentStatusAssigned {
		a.Status = AssignmentStatusInProgress
	}
	if a.Timeline.StartedAt == nil {
		a.Timeline.StartedAt = timePtr(at)
	}
}

func (a *ForwarderAssignment) completeEntry(entry *SubAssignment, at time.Time) {
	entry.CompletedAt = timePtr(at)
	a.Timeline.Milestones = append(a.Timeline.Milestones, Milestone{
		Name:      string(entry.Stage) + "_completed",
		Stage:     entry.Stage,
		Timestamp: at,
	})
	if next := a.nextOpenStage(); next != "" {
		a.CurrentStage = next
	}
}

// recomputeOverall keeps the rule that the assignment is completed exactly
// when every sub-assignment is completed.
func (a *ForwarderAssignment) recomputeOverall(at time.Time) {
	if a.AllStagesCompleted() {
		if a.Status != AssignmentStatusCompleted {
			a.Status = AssignmentStatusCompleted
			a.Timeline.ActualCompletion = timePtr(at)
			a.Timeline.Milestones = append(a.Timeline.Milestones, Milestone{Name: "all_stages_completed", Timestamp: at})
		}
		return
	}
	if a.Status == AssignmentStatusCompleted {
		a.Status = AssignmentStatusInProgress
		a.Timeline.ActualCompletion = nil
	}
}

func (a *ForwarderAssignment) nextOpenStage() Stage {
	for _, entry := range a.AssignedForwarders {
		if !entry.Status.terminal() {
			return entry.Stage
		}
	}
	return ""
}

func (a *ForwarderAssignment) track(entry *SubAssignment, actorID, location string, coords *GeoPoint, notes string, at time.Time) {
	a.TrackingLog = append(a.TrackingLog, TrackingEntry{
		ID:          uuid.NewString(),
		Stage:       entry.Stage,
		Status:      entry.Status,
		Location:    firstNonEmpty(location, entry.Location),
		Coordinates: coords,
		Notes:       notes,
		ActorID:     actorID,
		Timestamp:   at,
	})
}

func (a *ForwarderAssignment) audit(action, actorID string, stage Stage, prev, next StageStatus, at time.Time) {
	a.AuditTrail = append(a.AuditTrail, newAuditEntry(
		action, actorID, string(prev), string(next), "stage "+string(stage), at,
	))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Package notify keeps the change summary of the most recent syncs
// that wrote anything, until a consumer clears it. Downstream pollers
// read one aggregate instead of tailing per-stage results.
package notify

import (
	"sync"

	"codeberg.org/dirmirror/dirmirror/pkg/controller"
)

// Aggregate is the consumer-facing snapshot. Per-stage entries are
// present only while hasChanges is set, and each holds the last result
// of that stage that performed writes.
type Aggregate struct {
	HasChanges           bool                    `json:"hasChanges"`
	Users                *controller.StageResult `json:"users,omitempty"`
	Groups               *controller.StageResult `json:"groups,omitempty"`
	UserGroupAssignments *controller.StageResult `json:"userGroupAssignments,omitempty"`
	GroupMembers         *controller.StageResult `json:"groupMembers,omitempty"`
}

// Notifier implements controller.Publisher. Single writer (the
// manager), any number of readers.
type Notifier struct {
	mu sync.RWMutex

	hasChanges           bool
	users                *controller.StageResult
	groups               *controller.StageResult
	userGroupAssignments *controller.StageResult
	groupMembers         *controller.StageResult
}

func New() *Notifier {
	return &Notifier{}
}

// Publish records a stage result. Results without effective writes
// leave the aggregate untouched, so consumers only ever see runs that
// changed the mirror.
func (n *Notifier) Publish(stage controller.Stage, result controller.StageResult) {
	if !result.HasChanges() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch stage {
	case controller.StageUsers:
		n.users = &result
	case controller.StageGroups:
		n.groups = &result
	case controller.StageMembershipsByUser:
		n.userGroupAssignments = &result
	case controller.StageMembershipsByGroup:
		n.groupMembers = &result
	default:
		return
	}
	n.hasChanges = true
}

// Consume returns the current aggregate without clearing it; clearing
// is an explicit separate call.
func (n *Notifier) Consume() Aggregate {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.hasChanges {
		return Aggregate{}
	}

	return Aggregate{
		HasChanges:           true,
		Users:                n.users,
		Groups:               n.groups,
		UserGroupAssignments: n.userGroupAssignments,
		GroupMembers:         n.groupMembers,
	}
}

// Clear wipes the aggregate and the hasChanges flag.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.hasChanges = false
	n.users = nil
	n.groups = nil
	n.userGroupAssignments = nil
	n.groupMembers = nil
}

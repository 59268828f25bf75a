package controller

import (
	"time"
)

// Stage names one reconciliation pass over a single entity type. A full
// run executes all four in the order Stages returns them.
type Stage string

const (
	StageUsers              Stage = "SYNC_USERS"
	StageGroups             Stage = "SYNC_GROUPS"
	StageMembershipsByUser  Stage = "SYNC_MEMBERSHIPS_BY_USER"
	StageMembershipsByGroup Stage = "SYNC_MEMBERSHIPS_BY_GROUP"
)

// Stages returns the fixed run order. Users before groups before edges,
// so an edge never refers to a row the same run has not written yet.
func Stages() []Stage {
	return []Stage{
		StageUsers,
		StageGroups,
		StageMembershipsByUser,
		StageMembershipsByGroup,
	}
}

type Action string

const (
	ActionInserted Action = "INSERTED"
	ActionUpdated  Action = "UPDATED"
	ActionDeleted  Action = "DELETED"
)

// ChangeRecord describes one effective write. ChangedFields is set for
// updates only; membership edges use userID/groupID as the entity id.
type ChangeRecord struct {
	EntityID      string    `json:"entityId"`
	Action        Action    `json:"action"`
	ChangedFields []string  `json:"changedFields,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunStats counts what one stage did. Fetched is the raw remote count
// before validation; Skipped counts invalid records excluded from the
// diff; Failed counts per-record apply errors.
type RunStats struct {
	Fetched   int `json:"fetched"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Unchanged int `json:"unchanged"`
}

// StageResult is the outcome of one stage, kept for the status surface
// and handed to the notifier.
type StageResult struct {
	Stage      Stage          `json:"stage"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Stats      RunStats       `json:"stats"`
	Changes    []ChangeRecord `json:"changes,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// HasChanges reports whether the stage performed any effective write.
func (r StageResult) HasChanges() bool {
	return r.Stats.Inserted > 0 || r.Stats.Updated > 0 || r.Stats.Deleted > 0
}

func newChange(entityID string, action Action, fields []string) ChangeRecord {
	return ChangeRecord{
		EntityID:      entityID,
		Action:        action,
		ChangedFields: fields,
		Timestamp:     time.Now().UTC(),
	}
}

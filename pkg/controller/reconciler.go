package controller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/diff"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
)

// Reconciler runs one fetch, snapshot, diff, apply pass per entity
// type. The directory is authoritative; the mirror is brought in line
// with whatever the fetch returned.
type Reconciler struct {
	dir    directory.Reader
	mirror *mirror.Mirror
	logger *zap.Logger
}

func NewReconciler(dir directory.Reader, m *mirror.Mirror, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		dir:    dir,
		mirror: m,
		logger: logger.With(zap.String("component", "reconciler")),
	}
}

// Run executes one stage and reports its outcome. Stage failures end up
// in the result, never as a panic or a returned error; the caller
// decides whether later stages still run.
func (r *Reconciler) Run(ctx context.Context, stage Stage) StageResult {
	started := time.Now().UTC()
	logger := r.logger.With(zap.String("stage", string(stage)))
	logger.Info("Starting stage")

	var (
		stats   RunStats
		changes []ChangeRecord
		err     error
	)

	switch stage {
	case StageUsers:
		stats, changes, err = r.syncUsers(ctx)
	case StageGroups:
		stats, changes, err = r.syncGroups(ctx)
	case StageMembershipsByUser:
		stats, changes, err = r.syncMemberships(ctx, r.dir.UserMemberships)
	case StageMembershipsByGroup:
		stats, changes, err = r.syncMemberships(ctx, r.dir.GroupMemberships)
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}

	result := StageResult{
		Stage:      stage,
		Success:    err == nil,
		Stats:      stats,
		Changes:    changes,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}

	if err != nil {
		result.Error = err.Error()
		logger.Error("Stage failed", zap.Error(err))
		return result
	}

	logger.Info("Stage completed",
		zap.Int("fetched", stats.Fetched),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Duration("duration", result.FinishedAt.Sub(started)))
	return result
}

func (r *Reconciler) syncUsers(ctx context.Context) (RunStats, []ChangeRecord, error) {
	var stats RunStats

	remote, local, err := fetchAndLoad(ctx, r.logger, r.dir.Users, r.mirror.UserSnapshot)
	if err != nil {
		return stats, nil, fmt.Errorf("fetch users: %w", err)
	}
	stats.Fetched = len(remote)

	valid := make([]directory.User, 0, len(remote))
	for _, u := range remote {
		if err := directory.ValidateUser(&u); err != nil {
			stats.Skipped++
			r.logger.Warn("Skipping invalid user", zap.String("id", u.ID), zap.Error(err))
			continue
		}
		valid = append(valid, u)
	}

	result := diff.Compute(valid, local)
	stats.Unchanged = result.Unchanged
	if !result.HasChanges() {
		return stats, nil, nil
	}

	tx, err := r.mirror.Begin(ctx)
	if err != nil {
		return stats, nil, err
	}
	defer tx.Rollback()

	var changes []ChangeRecord
	for _, u := range result.Insert {
		if err := tx.UpsertUser(ctx, u); err != nil {
			stats.Failed++
			r.logger.Error("Failed to insert user", zap.String("id", u.ID), zap.Error(err))
			continue
		}
		stats.Inserted++
		changes = append(changes, newChange(u.ID, ActionInserted, nil))
	}
	for _, up := range result.Update {
		if err := tx.UpsertUser(ctx, up.Record); err != nil {
			stats.Failed++
			r.logger.Error("Failed to update user", zap.String("id", up.Record.ID), zap.Error(err))
			continue
		}
		stats.Updated++
		changes = append(changes, newChange(up.Record.ID, ActionUpdated, up.Changed))
	}
	for _, u := range result.Delete {
		if err := tx.DeleteUser(ctx, u.ID); err != nil {
			stats.Failed++
			r.logger.Error("Failed to delete user", zap.String("id", u.ID), zap.Error(err))
			continue
		}
		stats.Deleted++
		changes = append(changes, newChange(u.ID, ActionDeleted, nil))
	}

	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("commit users stage: %w", err)
	}
	return stats, changes, nil
}

func (r *Reconciler) syncGroups(ctx context.Context) (RunStats, []ChangeRecord, error) {
	var stats RunStats

	remote, local, err := fetchAndLoad(ctx, r.logger, r.dir.Groups, r.mirror.GroupSnapshot)
	if err != nil {
		return stats, nil, fmt.Errorf("fetch groups: %w", err)
	}
	stats.Fetched = len(remote)

	valid := make([]directory.Group, 0, len(remote))
	for _, g := range remote {
		if err := directory.ValidateGroup(&g); err != nil {
			stats.Skipped++
			r.logger.Warn("Skipping invalid group", zap.String("id", g.ID), zap.Error(err))
			continue
		}
		valid = append(valid, g)
	}

	result := diff.Compute(valid, local)
	stats.Unchanged = result.Unchanged
	if !result.HasChanges() {
		return stats, nil, nil
	}

	tx, err := r.mirror.Begin(ctx)
	if err != nil {
		return stats, nil, err
	}
	defer tx.Rollback()

	var changes []ChangeRecord
	for _, g := range result.Insert {
		if err := tx.UpsertGroup(ctx, g); err != nil {
			stats.Failed++
			r.logger.Error("Failed to insert group", zap.String("id", g.ID), zap.Error(err))
			continue
		}
		stats.Inserted++
		changes = append(changes, newChange(g.ID, ActionInserted, nil))
	}
	for _, up := range result.Update {
		if err := tx.UpsertGroup(ctx, up.Record); err != nil {
			stats.Failed++
			r.logger.Error("Failed to update group", zap.String("id", up.Record.ID), zap.Error(err))
			continue
		}
		stats.Updated++
		changes = append(changes, newChange(up.Record.ID, ActionUpdated, up.Changed))
	}
	for _, g := range result.Delete {
		if err := tx.DeleteGroup(ctx, g.ID); err != nil {
			stats.Failed++
			r.logger.Error("Failed to delete group", zap.String("id", g.ID), zap.Error(err))
			continue
		}
		stats.Deleted++
		changes = append(changes, newChange(g.ID, ActionDeleted, nil))
	}

	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("commit groups stage: %w", err)
	}
	return stats, changes, nil
}

// syncMemberships reconciles edges from either the by-user or the
// by-group view. Edges have no mutable attributes, so the diff only
// produces inserts and deletes.
func (r *Reconciler) syncMemberships(
	ctx context.Context,
	fetch func(context.Context) ([]directory.Member, error),
) (RunStats, []ChangeRecord, error) {
	var stats RunStats

	remote, local, err := fetchAndLoad(ctx, r.logger, fetch, r.mirror.MemberSnapshot)
	if err != nil {
		return stats, nil, fmt.Errorf("fetch memberships: %w", err)
	}
	stats.Fetched = len(remote)

	valid := make([]directory.Member, 0, len(remote))
	for _, e := range remote {
		if err := directory.ValidateMember(&e); err != nil {
			stats.Skipped++
			r.logger.Warn("Skipping invalid membership", zap.String("edge", e.Key()), zap.Error(err))
			continue
		}
		valid = append(valid, e)
	}

	result := diff.Compute(valid, local)
	stats.Unchanged = result.Unchanged
	if !result.HasChanges() {
		return stats, nil, nil
	}

	tx, err := r.mirror.Begin(ctx)
	if err != nil {
		return stats, nil, err
	}
	defer tx.Rollback()

	var changes []ChangeRecord
	for _, e := range result.Insert {
		if _, err := tx.AddMember(ctx, e.GroupID, e.UserID); err != nil {
			stats.Failed++
			r.logger.Error("Failed to add membership", zap.String("edge", e.Key()), zap.Error(err))
			continue
		}
		stats.Inserted++
		changes = append(changes, newChange(e.Key(), ActionInserted, nil))
	}
	for _, e := range result.Delete {
		if _, err := tx.RemoveMember(ctx, e.GroupID, e.UserID); err != nil {
			stats.Failed++
			r.logger.Error("Failed to remove membership", zap.String("edge", e.Key()), zap.Error(err))
			continue
		}
		stats.Deleted++
		changes = append(changes, newChange(e.Key(), ActionDeleted, nil))
	}

	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("commit memberships stage: %w", err)
	}
	return stats, changes, nil
}

// fetchAndLoad runs the remote fetch and the local snapshot load
// concurrently. A failed fetch aborts the stage; a failed load degrades
// to an empty snapshot, so the pass re-upserts every remote record.
func fetchAndLoad[T any](
	ctx context.Context,
	logger *zap.Logger,
	fetch func(context.Context) ([]T, error),
	load func(context.Context) (map[string]T, error),
) ([]T, map[string]T, error) {
	var (
		remote   []T
		fetchErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		remote, fetchErr = fetch(ctx)
	}()

	local, loadErr := load(ctx)
	<-done

	if fetchErr != nil {
		return nil, nil, fetchErr
	}
	if loadErr != nil {
		logger.Warn("Snapshot load failed, treating mirror as empty", zap.Error(loadErr))
		local = make(map[string]T)
	}
	return remote, local, nil
}

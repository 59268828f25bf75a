package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/controller"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
)

func (h *handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listGroups(w, r)
	case http.MethodPost:
		h.createGroup(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) handleGroupSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/groups/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		http.Error(w, "Group id required", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 && parts[0] == "sync" {
		h.triggerStages(w, r, controller.StageGroups)
		return
	}

	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getGroup(w, r, id)
		case http.MethodPut:
			h.updateGroup(w, r, id)
		case http.MethodDelete:
			h.deleteGroup(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "members":
		switch r.Method {
		case http.MethodGet:
			h.getGroupMembers(w, r, id)
		case http.MethodPost:
			h.addGroupMembers(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 3 && parts[1] == "members" && parts[2] != "":
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.removeGroupMember(w, r, id, parts[2])

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	startIndex := intParam(query, "startIndex", 1)
	count := intParam(query, "count", 100)

	rows, total, err := h.mirror.ListGroups(r.Context(), startIndex, count, query.Get("search"))
	if err != nil {
		h.mirrorError(w, "list groups", err)
		return
	}
	if rows == nil {
		rows = []mirror.GroupRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"totalResults": total,
		"startIndex":   startIndex,
		"itemsPerPage": len(rows),
		"Resources":    rows,
	})
}

func (h *handler) getGroup(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetGroup(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load group", err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	displayName := stringField(data, "displayName")
	if displayName == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "displayName is required"})
		return
	}
	name := stringField(data, "name")
	if name == "" {
		name = generateGroupName(displayName)
	}
	if name == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}

	existing, err := h.mirror.GetGroupByName(r.Context(), name)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		h.mirrorError(w, "check group name", err)
		return
	}
	if existing != nil {
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error": "Group with this name already exists",
			"name":  name,
		})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Creating group",
		zap.String("name", name),
		zap.String("display_name", displayName))

	created, err := wdir.CreateGroup(r.Context(), directory.Group{
		Name:        &name,
		DisplayName: displayName,
		Description: directory.OptString(stringField(data, "description")),
	})
	if err != nil {
		h.directoryError(w, "create group in directory", err)
		return
	}
	if err := h.mirror.UpsertGroup(r.Context(), *created); err != nil {
		h.mirrorError(w, "store created group", err)
		return
	}

	row, err := h.mirror.GetGroup(r.Context(), created.ID)
	if err != nil {
		h.mirrorError(w, "load created group", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, row)
}

func (h *handler) updateGroup(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetGroup(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load group", err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	displayName := stringField(data, "displayName")
	if displayName == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "displayName is required"})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Updating group", zap.String("id", id))

	changes := map[string]string{"displayName": displayName}
	_, hasDescription := data["description"]
	if hasDescription {
		changes["description"] = stringField(data, "description")
	}
	if err := wdir.PatchGroup(r.Context(), id, changes); err != nil {
		h.directoryError(w, "update group in directory", err)
		return
	}

	updated := row.Canonical()
	updated.DisplayName = displayName
	if hasDescription {
		updated.Description = directory.OptString(changes["description"])
	}
	if err := h.mirror.UpsertGroup(r.Context(), updated); err != nil {
		h.mirrorError(w, "store updated group", err)
		return
	}

	fresh, err := h.mirror.GetGroup(r.Context(), id)
	if err != nil {
		h.mirrorError(w, "load updated group", err)
		return
	}
	h.writeJSON(w, http.StatusOK, fresh)
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.mirror.GetGroup(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
			return
		}
		h.mirrorError(w, "load group", err)
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Deleting group", zap.String("id", id))

	if err := wdir.DeleteGroup(r.Context(), id); err != nil {
		h.directoryError(w, "delete group from directory", err)
		return
	}
	if err := h.mirror.DeleteGroup(r.Context(), id); err != nil {
		h.logger.Error("Mirror delete failed after directory delete",
			zap.String("id", id), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Group deleted from directory but failed to delete from mirror",
			"id":    id,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Group deleted successfully",
		"id":      id,
	})
}

func (h *handler) getGroupMembers(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetGroup(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load group", err)
		return
	}

	members, err := h.mirror.GroupMembers(r.Context(), id)
	if err != nil {
		h.mirrorError(w, "load group members", err)
		return
	}
	if members == nil {
		members = []mirror.GroupMemberRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"groupId":      id,
		"groupName":    row.Name,
		"totalMembers": len(members),
		"members":      members,
	})
}

func (h *handler) addGroupMembers(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.mirror.GetGroup(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
			return
		}
		h.mirrorError(w, "load group", err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	userIDs, ok := stringSlice(data, "userIds")
	if !ok || len(userIDs) == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "userIds array is required and must not be empty",
		})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Adding group members",
		zap.String("group_id", id),
		zap.Int("count", len(userIDs)))

	if err := wdir.AddMembers(r.Context(), id, userIDs); err != nil {
		h.directoryError(w, "add group members in directory", err)
		return
	}

	added := []string{}
	alreadyMembers := []string{}
	for _, userID := range userIDs {
		wasAdded, err := h.mirror.AddMember(r.Context(), id, userID)
		if err != nil {
			h.mirrorError(w, "store group members", err)
			return
		}
		if wasAdded {
			added = append(added, userID)
		} else {
			alreadyMembers = append(alreadyMembers, userID)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"groupId":        id,
		"added":          added,
		"alreadyMembers": alreadyMembers,
	})
}

func (h *handler) removeGroupMember(w http.ResponseWriter, r *http.Request, id, userID string) {
	if _, err := h.mirror.GetGroup(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Group not found", "id": id})
			return
		}
		h.mirrorError(w, "load group", err)
		return
	}

	member, err := h.mirror.IsMember(r.Context(), id, userID)
	if err != nil {
		h.mirrorError(w, "check membership", err)
		return
	}
	if !member {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "User is not a member of this group",
			"groupId": id,
			"userId":  userID,
		})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Removing group member",
		zap.String("group_id", id),
		zap.String("user_id", userID))

	if err := wdir.RemoveMember(r.Context(), id, userID); err != nil {
		h.directoryError(w, "remove group member from directory", err)
		return
	}
	if _, err := h.mirror.RemoveMember(r.Context(), id, userID); err != nil {
		h.mirrorError(w, "remove mirrored member", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Member removed successfully",
		"groupId": id,
		"userId":  userID,
	})
}

var groupNameStrip = regexp.MustCompile(`[^a-z0-9]+`)

// generateGroupName derives a machine name from a display name:
// lowercased, with non-alphanumeric runs collapsed to single dashes.
func generateGroupName(displayName string) string {
	name := groupNameStrip.ReplaceAllString(strings.ToLower(displayName), "-")
	return strings.Trim(name, "-")
}

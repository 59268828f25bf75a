package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/controller"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
)

func (h *handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listUsers(w, r)
	case http.MethodPost:
		h.createUser(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		http.Error(w, "User id required", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 && parts[0] == "sync" {
		h.triggerStages(w, r, controller.StageUsers)
		return
	}

	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getUser(w, r, id)
		case http.MethodPatch:
			h.patchUser(w, r, id)
		case http.MethodDelete:
			h.deleteUser(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "groups":
		switch r.Method {
		case http.MethodGet:
			h.getUserGroups(w, r, id)
		case http.MethodPost:
			h.addUserToGroups(w, r, id)
		case http.MethodDelete:
			h.removeUserFromGroups(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	startIndex := intParam(query, "startIndex", 1)
	count := intParam(query, "count", 100)

	rows, total, err := h.mirror.ListUsers(r.Context(), mirror.UserFilter{
		StartIndex: startIndex,
		Count:      count,
		Search:     query.Get("search"),
		Email:      query.Get("email"),
		Status:     query.Get("status"),
		UserType:   query.Get("userType"),
		Country:    query.Get("country"),
	})
	if err != nil {
		h.mirrorError(w, "list users", err)
		return
	}
	if rows == nil {
		rows = []mirror.UserRecord{}
	}

	// Provided filters are echoed back even when blank.
	filters := map[string]any{}
	for _, key := range []string{"search", "email", "status", "userType", "country"} {
		if query.Has(key) {
			filters[key] = query.Get(key)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"version":    "FILTERS_V1",
		"total":      total,
		"startIndex": max(1, startIndex),
		"count":      min(max(1, count), 200),
		"items":      rows,
		"filters":    filters,
	})
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetUser(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load user", err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	if errBody := checkRequired(data, "lastName", "email", "userType", "loginName"); errBody != nil {
		h.writeJSON(w, http.StatusBadRequest, errBody)
		return
	}
	if errBody := checkEmail(stringField(data, "email")); errBody != nil {
		h.writeJSON(w, http.StatusBadRequest, errBody)
		return
	}
	if status := stringField(data, "status"); status != "" {
		if errBody := checkStatus(status); errBody != nil {
			h.writeJSON(w, http.StatusBadRequest, errBody)
			return
		}
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	u := userFromRequest(data)
	h.logger.Info("Creating user", zap.String("login_name", u.LoginName))

	created, err := wdir.CreateUser(r.Context(), u)
	if err != nil {
		h.directoryError(w, "create user in directory", err)
		return
	}
	if err := h.mirror.UpsertUser(r.Context(), *created); err != nil {
		h.mirrorError(w, "store created user", err)
		return
	}

	row, err := h.mirror.GetUser(r.Context(), created.ID)
	if err != nil {
		h.mirrorError(w, "load created user", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, row)
}

func (h *handler) patchUser(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetUser(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load user", err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	if _, ok := data["id"]; ok {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id cannot be modified", "field": "id"})
		return
	}
	if _, ok := data["email"]; ok {
		if errBody := checkEmail(stringField(data, "email")); errBody != nil {
			h.writeJSON(w, http.StatusBadRequest, errBody)
			return
		}
	}
	if _, ok := data["status"]; ok {
		if errBody := checkStatus(stringField(data, "status")); errBody != nil {
			h.writeJSON(w, http.StatusBadRequest, errBody)
			return
		}
	}

	changes := make(map[string]string)
	for _, field := range userPatchFields {
		if _, ok := data[field]; ok {
			changes[field] = stringField(data, field)
		}
	}
	if len(changes) == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No updatable fields provided"})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Updating user", zap.String("id", id), zap.Int("fields", len(changes)))

	if err := wdir.PatchUser(r.Context(), id, changes); err != nil {
		h.directoryError(w, "update user in directory", err)
		return
	}

	updated := row.Canonical()
	applyUserChanges(&updated, changes)
	if err := h.mirror.UpsertUser(r.Context(), updated); err != nil {
		h.mirrorError(w, "store updated user", err)
		return
	}

	fresh, err := h.mirror.GetUser(r.Context(), id)
	if err != nil {
		h.mirrorError(w, "load updated user", err)
		return
	}
	h.writeJSON(w, http.StatusOK, fresh)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.mirror.GetUser(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "id": id})
		return
	}
	if err != nil {
		h.mirrorError(w, "load user", err)
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	h.logger.Info("Deleting user", zap.String("id", id), zap.String("login_name", row.LoginName))

	if err := wdir.DeleteUser(r.Context(), id); err != nil {
		h.directoryError(w, "delete user from directory", err)
		return
	}
	if err := h.mirror.DeleteUser(r.Context(), id); err != nil {
		h.logger.Error("Mirror delete failed after directory delete",
			zap.String("id", id), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "User deleted from directory but failed to delete from mirror",
			"id":    id,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":              "User deleted successfully",
		"id":                   id,
		"loginName":            row.LoginName,
		"deletedFromDirectory": true,
		"deletedFromMirror":    true,
	})
}

func (h *handler) getUserGroups(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.mirror.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "userId": id})
			return
		}
		h.mirrorError(w, "load user", err)
		return
	}

	groups, err := h.mirror.UserGroups(r.Context(), id)
	if err != nil {
		h.mirrorError(w, "load user groups", err)
		return
	}
	if groups == nil {
		groups = []mirror.UserGroupRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"userId":      id,
		"totalGroups": len(groups),
		"groups":      groups,
	})
}

func (h *handler) addUserToGroups(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.mirror.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "id": id})
			return
		}
		h.mirrorError(w, "load user", err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if errBody := checkRequired(data, "groupIds"); errBody != nil {
		h.writeJSON(w, http.StatusBadRequest, errBody)
		return
	}
	groupIDs, _ := stringSlice(data, "groupIds")

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	added := []string{}
	failed := []string{}
	for _, groupID := range groupIDs {
		if err := wdir.AddMembers(r.Context(), groupID, []string{id}); err != nil {
			h.logger.Error("Failed to add user to group in directory",
				zap.String("user_id", id),
				zap.String("group_id", groupID),
				zap.Error(err))
			failed = append(failed, groupID)
			continue
		}
		added = append(added, groupID)

		// A mirror miss here self-heals on the next membership stage.
		if _, err := h.mirror.AddMember(r.Context(), groupID, id); err != nil {
			h.logger.Error("Failed to mirror membership",
				zap.String("user_id", id),
				zap.String("group_id", groupID),
				zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"userId": id,
		"added":  added,
		"failed": failed,
	})
}

func (h *handler) removeUserFromGroups(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.mirror.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found", "id": id})
			return
		}
		h.mirrorError(w, "load user", err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	groupIDs, ok := stringSlice(data, "groupIds")
	if !ok || len(groupIDs) == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "groupIds array is required and must not be empty",
		})
		return
	}

	wdir, ok := h.writer(w)
	if !ok {
		return
	}

	removed := []string{}
	failed := []string{}
	for _, groupID := range groupIDs {
		if err := wdir.RemoveMember(r.Context(), groupID, id); err != nil {
			h.logger.Error("Failed to remove user from group in directory",
				zap.String("user_id", id),
				zap.String("group_id", groupID),
				zap.Error(err))
			failed = append(failed, groupID)
			continue
		}
		removed = append(removed, groupID)

		if _, err := h.mirror.RemoveMember(r.Context(), groupID, id); err != nil {
			h.logger.Error("Failed to remove mirrored membership",
				zap.String("user_id", id),
				zap.String("group_id", groupID),
				zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"userId":  id,
		"removed": removed,
		"failed":  failed,
	})
}

// userPatchFields is the updatable attribute whitelist; unknown body
// keys are ignored.
var userPatchFields = []string{
	"loginName", "email", "firstName", "lastName", "userType",
	"status", "validFrom", "validTo", "company", "country", "city",
}

func userFromRequest(data map[string]any) directory.User {
	status := strings.ToUpper(stringField(data, "status"))
	if status == "" {
		status = directory.StatusActive
	}
	return directory.User{
		LoginName: stringField(data, "loginName"),
		Email:     stringField(data, "email"),
		LastName:  stringField(data, "lastName"),
		UserType:  stringField(data, "userType"),
		Status:    status,
		FirstName: directory.OptString(stringField(data, "firstName")),
		ValidFrom: directory.DateOnly(stringField(data, "validFrom")),
		ValidTo:   directory.DateOnly(stringField(data, "validTo")),
		Company:   directory.OptString(stringField(data, "company")),
		Country:   directory.OptString(stringField(data, "country")),
		City:      directory.OptString(stringField(data, "city")),
	}
}

func applyUserChanges(u *directory.User, changes map[string]string) {
	for field, value := range changes {
		switch field {
		case "loginName":
			u.LoginName = value
		case "email":
			u.Email = value
		case "firstName":
			u.FirstName = directory.OptString(value)
		case "lastName":
			u.LastName = value
		case "userType":
			u.UserType = value
		case "status":
			u.Status = strings.ToUpper(value)
		case "validFrom":
			u.ValidFrom = directory.DateOnly(value)
		case "validTo":
			u.ValidTo = directory.DateOnly(value)
		case "company":
			u.Company = directory.OptString(value)
		case "country":
			u.Country = directory.OptString(value)
		case "city":
			u.City = directory.OptString(value)
		}
	}
}

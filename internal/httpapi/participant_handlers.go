package httpapi

import "net/http"

type addParticipantRequest struct {
	UserIdentifier string `json:"user_identifier" validate:"required,max=200"`
	IdentitySource string `json:"identity_source" validate:"required,max=50"`
	Role           string `json:"role" validate:"required,max=50"`
}

type updateParticipantRoleRequest struct {
	Role string `json:"role" validate:"required,max=50"`
}

func (a *API) handleSelf(w http.ResponseWriter, r *http.Request) {
	user, err := decisionSubject(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.projects.DeactivateSystemUser(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "system_user.deactivate", map[string]any{"system_user_id": userID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	list, err := a.projects.Participants(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": list})
}

func (a *API) handleSelfParticipant(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := decisionSubject(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := a.projects.Participant(r.Context(), projectID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req addParticipantRequest
	if err := decodeValid(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := a.projects.AddParticipant(r.Context(), projectID, req.UserIdentifier, req.IdentitySource, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "project.participant.add", map[string]any{
		"project_id":     projectID,
		"system_user_id": p.SystemUserID,
		"role":           req.Role,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleUpdateParticipantRole(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req updateParticipantRoleRequest
	if err := decodeValid(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.projects.UpdateParticipantRole(r.Context(), projectID, userID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "project.participant.role_change", map[string]any{
		"project_id":     projectID,
		"system_user_id": userID,
		"role":           req.Role,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.projects.RemoveParticipant(r.Context(), projectID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "project.participant.remove", map[string]any{
		"project_id":     projectID,
		"system_user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	surveyID, err := pathID(r, "surveyId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sv, err := a.surveys.Find(r.Context(), surveyID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

package httpapi

import (
	"fmt"
	"net/http"

	"biohub.org/internal/access"
	"biohub.org/internal/auth"
)

type accessRequestBody struct {
	Role   int64  `json:"role" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=1000"`
	Email  string `json:"email" validate:"omitempty,email,max=300"`
}

type actionAccessRequestBody struct {
	Status string `json:"status" validate:"required,oneof=Actioned Rejected"`
}

func (a *API) handleSubmitAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req accessRequestBody
	if err := decodeValid(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	act, err := a.access.Submit(r.Context(), access.Request{
		RequestedRoleID: req.Role,
		Reason:          req.Reason,
		Email:           req.Email,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "access_request.submit", map[string]any{
		"activity_id": act.ID,
		"role_id":     act.RequestedRoleID,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/administrative-activity/%d", act.ID))
	writeJSON(w, http.StatusCreated, act)
}

func (a *API) handleListAccessRequests(w http.ResponseWriter, r *http.Request) {
	list, err := a.access.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": list})
}

func (a *API) handleActionAccessRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "activityId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req actionAccessRequestBody
	if err := decodeValid(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var act auth.Activity
	switch auth.ActivityStatus(req.Status) {
	case auth.ActivityActioned:
		act, err = a.access.Approve(r.Context(), id)
	default:
		act, err = a.access.Reject(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "access_request.action", map[string]any{
		"activity_id": act.ID,
		"status":      string(act.Status),
	})
	writeJSON(w, http.StatusOK, act)
}

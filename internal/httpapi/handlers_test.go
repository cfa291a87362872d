package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"biohub.org/internal/access"
	"biohub.org/internal/auth"
	"biohub.org/internal/auth/authtest"
	"biohub.org/internal/authz"
	"biohub.org/internal/project"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	signer  *auth.HMACVerifier
	store   *authtest.Store
	t       *testing.T
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func newTestAPI(t *testing.T, ready ReadyProbe) *apiClient {
	t.Helper()

	store := authtest.NewStore()
	signer, err := auth.NewHMACVerifier("test-secret", "biohub-test")
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}
	authSvc, err := auth.NewService(store)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	evaluator, err := authz.NewEvaluator(store.Participants())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	projects, err := project.NewService(store)
	if err != nil {
		t.Fatalf("project.NewService: %v", err)
	}
	accessSvc, err := access.NewService(store, nil)
	if err != nil {
		t.Fatalf("access.NewService: %v", err)
	}

	api, err := New(Options{
		Verifier:   signer,
		Auth:       authSvc,
		Evaluator:  evaluator,
		Projects:   projects,
		Access:     accessSvc,
		Surveys:    store.Surveys(),
		Ready:      ready,
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), signer: signer, store: store, t: t}
}

func (c *apiClient) token(username string) string {
	c.t.Helper()
	tok, err := c.signer.Sign(auth.Claims{
		IdentityProvider: "idir",
		IDIRUsername:     username,
		Email:            username + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-" + username},
	}, time.Minute)
	if err != nil {
		c.t.Fatalf("sign: %v", err)
	}
	return tok
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// seedProject creates a project 5 led by "lead" with "editor" as Editor and a survey 50.
func (c *apiClient) seedProject() (lead, editor auth.SystemUser) {
	lead = c.store.SeedUser("lead", auth.IdentitySourceIDIR)
	editor = c.store.SeedUser("editor", auth.IdentitySourceIDIR)
	c.store.SeedParticipant(5, lead.ID, auth.ProjectRoleLead)
	c.store.SeedParticipant(5, editor.ID, auth.ProjectRoleEditor)
	c.store.SeedSurvey(50, 5, "caribou 2024")
	return lead, editor
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	expectStatus(t, c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/metrics", "", nil), http.StatusOK)

	down := newTestAPI(t, ReadyProbe{DB: failingPinger{}})
	expectStatus(t, down.do(http.MethodGet, "/readyz", "", nil), http.StatusServiceUnavailable)
}

func TestAuthenticationFailures(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})

	expectStatus(t, c.do(http.MethodGet, "/api/user/self", "", nil), http.StatusUnauthorized)
	expectStatus(t, c.do(http.MethodGet, "/api/user/self", "garbage", nil), http.StatusUnauthorized)

	noIdentity, err := c.signer.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expectStatus(t, c.do(http.MethodGet, "/api/user/self", noIdentity, nil), http.StatusBadRequest)
}

func TestSelfProvisionsUser(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	resp := c.do(http.MethodGet, "/api/user/self", c.token("alice"), nil)
	expectStatus(t, resp, http.StatusOK)

	var user auth.SystemUser
	decodeBody(t, resp, &user)
	if user.ID == 0 || user.UserIdentifier != "alice" || user.IdentitySource != auth.IdentitySourceIDIR {
		t.Fatalf("unexpected user: %+v", user)
	}

	again := c.do(http.MethodGet, "/api/user/self", c.token("alice"), nil)
	var second auth.SystemUser
	decodeBody(t, again, &second)
	if second.ID != user.ID {
		t.Fatalf("expected stable id %d, got %d", user.ID, second.ID)
	}
	if c.store.UserCount() != 1 {
		t.Fatalf("expected one user, got %d", c.store.UserCount())
	}
}

func TestParticipantListGate(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()
	c.store.SeedUser("root", auth.IdentitySourceIDIR, auth.SystemRoleAdmin)

	expectStatus(t, c.do(http.MethodGet, "/api/project/5/participants", c.token("editor"), nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/api/project/5/participants", c.token("stranger"), nil), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodGet, "/api/project/abc/participants", c.token("editor"), nil), http.StatusBadRequest)

	resp := c.do(http.MethodGet, "/api/project/77/participants", c.token("root"), nil)
	expectStatus(t, resp, http.StatusOK)

	resp = c.do(http.MethodGet, "/api/project/5/participants", c.token("lead"), nil)
	var body struct {
		Participants []auth.ProjectParticipant `json:"participants"`
	}
	decodeBody(t, resp, &body)
	if len(body.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(body.Participants))
	}
}

func TestDeniedBodyLeaksNothing(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()

	resp := c.do(http.MethodGet, "/api/project/5/participants", c.token("stranger"), nil)
	expectStatus(t, resp, http.StatusForbidden)
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["error"] != "access denied" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestEvaluationErrorIsServerError(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()
	c.store.FailOn["participants.project"] = errors.New("pq: connection refused to 10.0.0.9")

	resp := c.do(http.MethodGet, "/api/project/5/participants", c.token("editor"), nil)
	expectStatus(t, resp, http.StatusInternalServerError)
	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "10.0.0.9") {
		t.Fatalf("internal detail leaked: %s", raw)
	}
}

func TestParticipantRoleChanges(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	lead, editor := c.seedProject()
	leadPath := "/api/project/5/participants/" + itoa(lead.ID)
	editorPath := "/api/project/5/participants/" + itoa(editor.ID)

	// Editors hold Collaborator only, which is not enough to change roles.
	expectStatus(t, c.do(http.MethodPut, leadPath, c.token("editor"), map[string]any{"role": "Viewer"}), http.StatusForbidden)

	resp := c.do(http.MethodPut, leadPath, c.token("lead"), map[string]any{"role": "Editor"})
	expectStatus(t, resp, http.StatusBadRequest)
	var body map[string]any
	decodeBody(t, resp, &body)
	if msg, _ := body["error"].(string); !strings.Contains(msg, auth.ProjectRoleLead) {
		t.Fatalf("expected invariant message, got %v", body)
	}

	expectStatus(t, c.do(http.MethodPut, editorPath, c.token("lead"), map[string]any{"role": "Project Lead"}), http.StatusNoContent)
	expectStatus(t, c.do(http.MethodPut, leadPath, c.token("lead"), map[string]any{"role": "Viewer"}), http.StatusNoContent)

	// The former lead is now a Viewer and loses write access.
	expectStatus(t, c.do(http.MethodDelete, editorPath, c.token("lead"), nil), http.StatusForbidden)

	expectStatus(t, c.do(http.MethodPut, editorPath, c.token("editor"), map[string]any{}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPut, editorPath, c.token("editor"), map[string]any{"role": "Owner"}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodDelete, "/api/project/5/participants/999", c.token("editor"), nil), http.StatusNotFound)
	expectStatus(t, c.do(http.MethodDelete, leadPath, c.token("editor"), nil), http.StatusNoContent)
}

func TestAddParticipant(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()

	resp := c.do(http.MethodPost, "/api/project/5/participants", c.token("lead"), map[string]any{
		"user_identifier": "newbie",
		"identity_source": "bceidbasic",
		"role":            "Viewer",
	})
	expectStatus(t, resp, http.StatusCreated)
	var p auth.ProjectParticipant
	decodeBody(t, resp, &p)
	if p.UserIdentifier != "newbie" || len(p.Permissions) != 1 || p.Permissions[0] != auth.ProjectPermissionObserver {
		t.Fatalf("unexpected participant: %+v", p)
	}

	dup := c.do(http.MethodPost, "/api/project/5/participants", c.token("lead"), map[string]any{
		"user_identifier": "newbie",
		"identity_source": "BCEIDBASIC",
		"role":            "Editor",
	})
	expectStatus(t, dup, http.StatusConflict)

	unknown := c.do(http.MethodPost, "/api/project/5/participants", c.token("lead"), map[string]any{
		"user_identifier": "x",
		"identity_source": "IDIR",
		"role":            "Viewer",
		"extra":           true,
	})
	expectStatus(t, unknown, http.StatusBadRequest)
}

func TestSelfParticipant(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()

	resp := c.do(http.MethodGet, "/api/project/5/participants/self", c.token("editor"), nil)
	expectStatus(t, resp, http.StatusOK)
	var p auth.ProjectParticipant
	decodeBody(t, resp, &p)
	if len(p.RoleNames) != 1 || p.RoleNames[0] != auth.ProjectRoleEditor {
		t.Fatalf("unexpected participant: %+v", p)
	}
}

func TestSurveyGateResolvesProject(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.seedProject()
	c.store.SeedUser("root", auth.IdentitySourceIDIR, auth.SystemRoleDataAdmin)

	expectStatus(t, c.do(http.MethodGet, "/api/survey/50", c.token("editor"), nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/api/survey/50", c.token("stranger"), nil), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodGet, "/api/survey/404", c.token("editor"), nil), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodGet, "/api/survey/404", c.token("root"), nil), http.StatusNotFound)
}

func TestAccessRequestLifecycle(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	c.store.SeedUser("root", auth.IdentitySourceIDIR, auth.SystemRoleAdmin)
	creator := authtest.SystemRoleIDs[auth.SystemRoleCreator]

	resp := c.do(http.MethodPost, "/api/administrative-activity", c.token("alice"), map[string]any{
		"role":   creator,
		"reason": "field season",
	})
	expectStatus(t, resp, http.StatusCreated)
	var act auth.Activity
	decodeBody(t, resp, &act)
	if act.Status != auth.ActivityPending || act.Email != "alice@example.com" {
		t.Fatalf("unexpected activity: %+v", act)
	}

	expectStatus(t, c.do(http.MethodGet, "/api/administrative-activities", c.token("alice"), nil), http.StatusForbidden)

	list := c.do(http.MethodGet, "/api/administrative-activities", c.token("root"), nil)
	expectStatus(t, list, http.StatusOK)
	var pending struct {
		Activities []auth.Activity `json:"activities"`
	}
	decodeBody(t, list, &pending)
	if len(pending.Activities) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending.Activities))
	}

	path := "/api/administrative-activity/" + itoa(act.ID)
	expectStatus(t, c.do(http.MethodPut, path, c.token("root"), map[string]any{"status": "Pending"}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPut, path, c.token("root"), map[string]any{"status": "Actioned"}), http.StatusOK)
	expectStatus(t, c.do(http.MethodPut, path, c.token("root"), map[string]any{"status": "Rejected"}), http.StatusConflict)

	self := c.do(http.MethodGet, "/api/user/self", c.token("alice"), nil)
	var user auth.SystemUser
	decodeBody(t, self, &user)
	if !user.HasSystemRole(auth.SystemRoleCreator) {
		t.Fatalf("expected Creator role after approval, got %v", user.RoleNames)
	}
}

func TestAccessRequestValidation(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	expectStatus(t, c.do(http.MethodPost, "/api/administrative-activity", c.token("alice"), map[string]any{"role": 0}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPost, "/api/administrative-activity", c.token("alice"), map[string]any{"role": 3, "email": "nope"}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPost, "/api/administrative-activity", c.token("alice"), nil), http.StatusBadRequest)
}

func TestUnknownRoute(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	expectStatus(t, c.do(http.MethodGet, "/nope", "", nil), http.StatusNotFound)
	expectStatus(t, c.do(http.MethodPost, "/healthz", "", nil), http.StatusMethodNotAllowed)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without collaborators")
	}
}

func TestDeactivateUserThenLoginReactivates(t *testing.T) {
	c := newTestAPI(t, ReadyProbe{})
	lead, editor := c.seedProject()
	root := c.store.SeedUser("root", auth.IdentitySourceIDIR, auth.SystemRoleAdmin)

	editorPath := "/api/user/" + itoa(editor.ID)
	expectStatus(t, c.do(http.MethodDelete, editorPath, c.token("lead"), nil), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodDelete, editorPath, c.token("root"), nil), http.StatusNoContent)

	stored, ok := c.store.User(editor.ID)
	if !ok || stored.Active() {
		t.Fatalf("expected deactivated user, got %+v", stored)
	}

	expectStatus(t, c.do(http.MethodDelete, "/api/user/"+itoa(lead.ID), c.token("root"), nil), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodDelete, "/api/user/"+itoa(root.ID), c.token("root"), nil), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodDelete, "/api/user/999", c.token("root"), nil), http.StatusNotFound)

	resp := c.do(http.MethodGet, "/api/user/self", c.token("editor"), nil)
	expectStatus(t, resp, http.StatusOK)
	var user auth.SystemUser
	decodeBody(t, resp, &user)
	if user.ID != editor.ID || !user.Active() {
		t.Fatalf("expected reactivated user %d, got %+v", editor.ID, user)
	}

	// Participation does not come back with reactivation.
	expectStatus(t, c.do(http.MethodGet, "/api/project/5/participants", c.token("editor"), nil), http.StatusForbidden)
}

func TestDecisionSubjectRequiresAdmittedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := decisionSubject(req); !errors.Is(err, auth.ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor, got %v", err)
	}

	ctx := authz.ContextWithDecision(req.Context(), authz.Decision{Subject: auth.SystemUser{ID: 4}, Allowed: true})
	user, err := decisionSubject(req.WithContext(ctx))
	if err != nil || user.ID != 4 {
		t.Fatalf("unexpected subject %+v, %v", user, err)
	}
}

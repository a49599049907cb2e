package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/store"
)

func newCaseTestServer(t *testing.T) *server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "handlers_case_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &server{
		log:         slog.Default(),
		cases:       store.NewCaseRepo(db),
		submissions: store.NewSubmissionRepo(db),
		transcript:  store.NewTranscriptRepo(db),
		jury:        store.NewJuryRepo(db),
		idempotency: store.NewIdempotencyRepo(db),
	}
}

func withAgent(req *http.Request, agentID string) *http.Request {
	ctx := auth.WithIdentity(req.Context(), auth.Identity{AgentID: agentID, Scheme: auth.SchemeOCPv1})
	return req.WithContext(ctx)
}

func doJSON(t *testing.T, s *server, handler http.HandlerFunc, method, target string, body any, agentID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if agentID != "" {
		req = withAgent(req, agentID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleDraftCase_CreatesJudgeScreeningCase(t *testing.T) {
	s := newCaseTestServer(t)
	rec := doJSON(t, s, s.handleDraftCase, http.MethodPost, "/api/cases/draft",
		draftCaseRequest{CourtMode: "jury"}, "agentA")

	require.Equal(t, http.StatusCreated, rec.Code)
	var got contracts.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "agentA", got.FilingAgentID)
	assert.Equal(t, contracts.StageJudgeScreening, got.Stage)
}

func TestHandleDraftCase_RequiresIdentity(t *testing.T) {
	s := newCaseTestServer(t)
	rec := doJSON(t, s, s.handleDraftCase, http.MethodPost, "/api/cases/draft",
		draftCaseRequest{CourtMode: "jury"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func draftCase(t *testing.T, s *server, agentID string) contracts.Case {
	t.Helper()
	rec := doJSON(t, s, s.handleDraftCase, http.MethodPost, "/api/cases/draft",
		draftCaseRequest{CourtMode: "jury"}, agentID)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c contracts.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func TestHandleFileCase_FilingAgentCanFileOnce(t *testing.T) {
	s := newCaseTestServer(t)
	c := draftCase(t, s, "agentA")

	req := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.CaseID+"/file",
		bytes.NewReader(mustJSON(t, fileCaseRequest{ClaimSummary: "breach of terms"})))
	req.SetPathValue("id", c.CaseID)
	req = withAgent(req, "agentA")
	rec := httptest.NewRecorder()
	s.handleFileCase(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Filing again must conflict rather than silently overwrite.
	req2 := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.CaseID+"/file",
		bytes.NewReader(mustJSON(t, fileCaseRequest{ClaimSummary: "second summary"})))
	req2.SetPathValue("id", c.CaseID)
	req2 = withAgent(req2, "agentA")
	rec2 := httptest.NewRecorder()
	s.handleFileCase(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleFileCase_RejectsNonFilingAgent(t *testing.T) {
	s := newCaseTestServer(t)
	c := draftCase(t, s, "agentA")

	req := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.CaseID+"/file",
		bytes.NewReader(mustJSON(t, fileCaseRequest{ClaimSummary: "breach of terms"})))
	req.SetPathValue("id", c.CaseID)
	req = withAgent(req, "agentB")
	rec := httptest.NewRecorder()
	s.handleFileCase(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleVolunteerDefence_SecondVolunteerConflicts(t *testing.T) {
	s := newCaseTestServer(t)
	c := draftCase(t, s, "agentA")

	req1 := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.CaseID+"/volunteer-defence", nil)
	req1.SetPathValue("id", c.CaseID)
	req1 = withAgent(req1, "agentB")
	rec1 := httptest.NewRecorder()
	s.handleVolunteerDefence(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.CaseID+"/volunteer-defence", nil)
	req2.SetPathValue("id", c.CaseID)
	req2 = withAgent(req2, "agentC")
	rec2 := httptest.NewRecorder()
	s.handleVolunteerDefence(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/dropDatabas3/syncmesh/internal/cache/memory"
	"github.com/dropDatabas3/syncmesh/internal/conflict"
	"github.com/dropDatabas3/syncmesh/internal/conflictlink"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store/adapters/memory"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

const testKey = "sekret"

type fixture struct {
	hub    *memory.Store
	edge   *memory.Store
	links  *conflictlink.Issuer
	router *chi.Mux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := memory.New("hub", "H")
	edge := memory.New("north", "N")
	hub.Seed("items", "r1", map[string]any{"name": "hub-side", "v_clock": `{"H":1}`})
	edge.Seed("items", "r1", map[string]any{"name": "north-side", "v_clock": `{"N":1}`})

	links := conflictlink.NewIssuer("test-secret", "syncmesh-test",
		30*time.Minute, 15*time.Minute, cachemem.New(time.Minute))

	svc := conflict.NewService(hub.Conflicts(), map[string]repository.ReplicaStore{
		"hub":   hub,
		"north": edge,
	})

	r := chi.NewRouter()
	(&ConflictsHandler{Svc: svc, Links: links, APIKey: testKey}).Register(r)
	(&MagicHandler{Links: links}).Register(r)

	return &fixture{hub: hub, edge: edge, links: links, router: r}
}

func (f *fixture) seedConflict(t *testing.T) string {
	t.Helper()
	rec := &repository.ConflictRecord{
		Reason:      "concurrent_update",
		Origin:      "north",
		Target:      "hub",
		Table:       "items",
		RecordID:    "r1",
		SourceClock: vclock.Parse(`{"N":1}`),
		TargetClock: vclock.Parse(`{"H":1}`),
		SourceNew:   map[string]any{"name": "north-side", "v_clock": `{"N":1}`},
		TargetData:  map[string]any{"name": "hub-side", "v_clock": `{"H":1}`},
	}
	require.NoError(t, f.hub.Conflicts().Create(context.Background(), rec))
	return rec.ID
}

func (f *fixture) request(method, path string, body any, auth func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func withKey(r *http.Request) { r.Header.Set("X-API-Key", testKey) }

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestListRequiresAuth(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodGet, "/v1/sync/conflicts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListWithAPIKey(t *testing.T) {
	f := newFixture(t)
	f.seedConflict(t)

	w := f.request(http.MethodGet, "/v1/sync/conflicts", nil, withKey)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []repository.ConflictRecord `json:"items"`
		Total int                         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "items", resp.Items[0].Table)
}

func TestResolveWithAPIKey(t *testing.T) {
	f := newFixture(t)
	id := f.seedConflict(t)

	w := f.request(http.MethodPut, "/v1/sync/conflicts/"+id+"/resolve",
		map[string]any{"strategy": "source", "note": "north wins"}, withKey)
	require.Equal(t, http.StatusOK, w.Code)

	var rec repository.ConflictRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, repository.ConflictResolved, rec.Status)
	assert.Equal(t, "north wins", rec.Note)

	// segunda resolución: 409
	w = f.request(http.MethodPut, "/v1/sync/conflicts/"+id+"/resolve",
		map[string]any{"strategy": "target"}, withKey)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveAllFiltersBySource(t *testing.T) {
	f := newFixture(t)
	own := f.seedConflict(t)

	other := &repository.ConflictRecord{
		Reason:      "concurrent_update",
		Origin:      "south",
		Target:      "hub",
		Table:       "items",
		RecordID:    "r2",
		SourceClock: vclock.Parse(`{"S":1}`),
		TargetClock: vclock.Parse(`{"H":1}`),
		SourceNew:   map[string]any{"name": "south-side"},
		TargetData:  map[string]any{"name": "hub-side"},
	}
	require.NoError(t, f.hub.Conflicts().Create(context.Background(), other))

	w := f.request(http.MethodPost, "/v1/sync/conflicts/resolve-all",
		map[string]any{"source": "north", "strategy": "source"}, withKey)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []conflict.ResolveResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, own, resp.Results[0].ConflictID)

	// el conflicto de otro origen no se toca
	got, err := f.hub.Conflicts().Get(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ConflictPending, got.Status)
}

func TestResolveBadStrategy(t *testing.T) {
	f := newFixture(t)
	id := f.seedConflict(t)

	w := f.request(http.MethodPut, "/v1/sync/conflicts/"+id+"/resolve",
		map[string]any{"strategy": "coinflip"}, withKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMagicLinkFlow(t *testing.T) {
	f := newFixture(t)
	id := f.seedConflict(t)

	link, err := f.links.IssueLink(id, conflictlink.PurposeResolve)
	require.NoError(t, err)

	// canje del link por una sesión
	w := f.request(http.MethodPost, "/v1/auth/magic/conflict", map[string]any{"token": link}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var redeem struct {
		SessionToken string `json:"session_token"`
		ConflictID   string `json:"conflict_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &redeem))
	assert.Equal(t, id, redeem.ConflictID)

	// el mismo link no se canjea dos veces
	w = f.request(http.MethodPost, "/v1/auth/magic/conflict", map[string]any{"token": link}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// la sesión ve su conflicto
	w = f.request(http.MethodGet, "/v1/sync/conflicts/"+id, nil, withBearer(redeem.SessionToken))
	assert.Equal(t, http.StatusOK, w.Code)

	// pero no la colección
	w = f.request(http.MethodGet, "/v1/sync/conflicts", nil, withBearer(redeem.SessionToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// ni un conflicto ajeno
	other := f.seedConflict(t)
	w = f.request(http.MethodGet, "/v1/sync/conflicts/"+other, nil, withBearer(redeem.SessionToken))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// y puede resolver el propio
	w = f.request(http.MethodPut, "/v1/sync/conflicts/"+id+"/resolve",
		map[string]any{"strategy": "source"}, withBearer(redeem.SessionToken))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestViewSessionCannotResolve(t *testing.T) {
	f := newFixture(t)
	id := f.seedConflict(t)

	link, err := f.links.IssueLink(id, conflictlink.PurposeView)
	require.NoError(t, err)
	session, _, err := f.links.Redeem(link)
	require.NoError(t, err)

	w := f.request(http.MethodPut, "/v1/sync/conflicts/"+id+"/resolve",
		map[string]any{"strategy": "source"}, withBearer(session))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

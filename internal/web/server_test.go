package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSmoothl/HMML2/internal/auth"
	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/maintenance"
	"github.com/DrSmoothl/HMML2/internal/pathcache"
)

const botSchema = `
CREATE TABLE expression (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	situation TEXT NOT NULL,
	style TEXT NOT NULL,
	count REAL NOT NULL DEFAULT 0,
	last_active_time REAL NOT NULL,
	chat_id TEXT NOT NULL,
	type TEXT NOT NULL,
	create_date REAL
);
CREATE TABLE emoji (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	full_path TEXT NOT NULL,
	format TEXT NOT NULL,
	emoji_hash TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	query_count INTEGER NOT NULL DEFAULT 0,
	is_registered INTEGER NOT NULL DEFAULT 0,
	is_banned INTEGER NOT NULL DEFAULT 0,
	emotion TEXT NOT NULL DEFAULT '',
	record_time REAL NOT NULL DEFAULT 0,
	register_time REAL NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used_time REAL NOT NULL DEFAULT 0
);
CREATE TABLE person_info (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	is_known INTEGER NOT NULL DEFAULT 0,
	person_id TEXT NOT NULL UNIQUE,
	person_name TEXT,
	name_reason TEXT,
	platform TEXT NOT NULL,
	user_id TEXT NOT NULL,
	nickname TEXT,
	impression TEXT,
	short_impression TEXT,
	points TEXT,
	forgotten_points TEXT,
	info_list TEXT,
	know_times REAL,
	know_since REAL,
	last_know REAL,
	attitude_to_me TEXT,
	attitude_to_me_confidence REAL,
	friendly_value REAL,
	friendly_value_confidence REAL,
	rudeness TEXT,
	rudeness_confidence REAL,
	neuroticism TEXT,
	neuroticism_confidence REAL,
	conscientiousness TEXT,
	conscientiousness_confidence REAL,
	likeness TEXT,
	likeness_confidence REAL
);
CREATE TABLE chat_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id TEXT NOT NULL UNIQUE,
	create_time REAL NOT NULL,
	group_platform TEXT,
	group_id TEXT,
	group_name TEXT,
	last_active_time REAL NOT NULL,
	platform TEXT NOT NULL,
	user_platform TEXT,
	user_id TEXT NOT NULL,
	user_nickname TEXT,
	user_cardname TEXT
);
`

type testEnv struct {
	server    *Server
	token     string
	dbManager *database.Manager
	pathCache *pathcache.Manager
	dir       string
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Time    int64           `json:"time"`
}

// newTestEnv builds a server whose primary database lives under a main
// root registered in the path cache. withPrimary=false leaves the main root
// unset.
func newTestEnv(t *testing.T, opts Options, withPrimary bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cache := pathcache.New(filepath.Join(dir, "data", "pathCache.json"))
	require.NoError(t, cache.Load())

	if withPrimary {
		root := filepath.Join(dir, "bot")
		dbPath := filepath.Join(root, filepath.FromSlash(pathcache.PrimaryDatabaseRelPath))
		conn := database.NewConnection(database.DefaultConnectionConfig(dbPath))
		require.NoError(t, conn.Connect())
		_, err := conn.ExecuteScript(botSchema)
		require.NoError(t, err)
		conn.Disconnect()
		require.NoError(t, cache.SetMainRoot(root))
	}

	dbManager := database.NewManager(cache, database.DefaultManagerConfig())
	require.NoError(t, dbManager.Initialize())
	t.Cleanup(dbManager.CloseAll)

	audit := auth.NewAuditor("")
	tokens := auth.NewTokenManager(filepath.Join(dir, "data", "token.json"),
		auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}, audit)
	token, err := tokens.Initialize()
	require.NoError(t, err)

	return &testEnv{
		server:    NewServer(opts, dbManager, cache, tokens, audit),
		token:     token,
		dbManager: dbManager,
		pathCache: cache,
		dir:       dir,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestServer_HealthIsPublic(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.NotZero(t, body.Time)
	assert.Contains(t, string(body.Data), `"primary_connected":true`)
}

func TestServer_TokenAuth(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer " + env.token, http.StatusOK},
		{"access token header", "X-Access-Token", env.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/system/info", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	code, body := env.do(t, http.MethodGet, "/api/auth/audit", "")
	require.Equal(t, http.StatusOK, code)
	var stats auth.AuditStats
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Equal(t, 1, stats.Failed)
	assert.GreaterOrEqual(t, stats.Success, 2)
}

func TestServer_Prefix(t *testing.T) {
	env := newTestEnv(t, Options{Prefix: "/admin/"}, true)

	code, _ := env.do(t, http.MethodGet, "/admin/api/health", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body.Status)
}

func TestServer_ExpressionLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	code, body := env.do(t, http.MethodPost, "/api/expression",
		`{"situation":"being thanked","style":"reply no worries","chat_id":"c1","type":"style","count":2}`)
	require.Equal(t, http.StatusOK, code, body.Message)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.Positive(t, created.ID)

	code, body = env.do(t, http.MethodGet, "/api/expression/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"situation":"being thanked"`)

	code, _ = env.do(t, http.MethodPut, "/api/expression/1", `{"style":"no problem"}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/expression/1/increment", "")
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/expression?chat_id=c1&minCount=3", "")
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Items []struct {
			Style string  `json:"style"`
			Count float64 `json:"count"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "no problem", page.Items[0].Style)
	assert.Equal(t, 3.0, page.Items[0].Count)

	code, body = env.do(t, http.MethodGet, "/api/expression/search?keyword=thanked", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), "being thanked")

	code, _ = env.do(t, http.MethodGet, "/api/expression/stats", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodDelete, "/api/expression/1", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodGet, "/api/expression/1", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodDelete, "/api/expression/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ExpressionValidation(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	tests := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/api/expression/abc", ""},
		{http.MethodGet, "/api/expression?orderBy=nope", ""},
		{http.MethodGet, "/api/expression?pageSize=0", ""},
		{http.MethodGet, "/api/expression?minCount=many", ""},
		{http.MethodPost, "/api/expression", `{"situation":""}`},
		{http.MethodPost, "/api/expression", `{"unknown":1}`},
		{http.MethodGet, "/api/expression/search", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", body.Status)
		})
	}
}

func TestServer_EmojiLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, true)
	emojiDir := filepath.Join(env.dir, "bot", "data", "emoji")
	require.NoError(t, os.MkdirAll(emojiDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(emojiDir, "a.png"), []byte("hello"), 0o644))

	code, body := env.do(t, http.MethodPost, "/api/emoji/hash", `{"path":"data/emoji/a.png"}`)
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.Contains(t, string(body.Data), `"hash":"5d41402abc4b2a76b9719d911017c592"`)

	code, body = env.do(t, http.MethodPost, "/api/emoji",
		`{"full_path":"data/emoji/a.png","format":"png","emoji_hash":"5d41402abc4b2a76b9719d911017c592","emotion":"happy"}`)
	require.Equal(t, http.StatusOK, code, body.Message)

	code, body = env.do(t, http.MethodGet, "/api/emoji/hash/5d41402abc4b2a76b9719d911017c592", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"format":"png"`)

	code, body = env.do(t, http.MethodGet, "/api/emoji/1/image", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"image":"aGVsbG8="`)

	code, _ = env.do(t, http.MethodPost, "/api/emoji/1/query", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPut, "/api/emoji/1", `{"is_registered":1}`)
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/emoji?is_registered=1&format=png", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"query_count":1`)
	assert.Contains(t, string(body.Data), `"total":1`)

	code, body = env.do(t, http.MethodGet, "/api/emoji/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"registered_count":1`)

	code, _ = env.do(t, http.MethodGet, "/api/emoji?is_banned=yes", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPost, "/api/emoji/hash", `{"path":"data/emoji/missing.png"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodDelete, "/api/emoji/1", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/emoji/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_PersonInfoLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	code, body := env.do(t, http.MethodPost, "/api/person-info",
		`{"person_id":"p1","person_name":"alice","platform":"qq","user_id":"100","nickname":"ali","know_times":3}`)
	require.Equal(t, http.StatusOK, code, body.Message)

	code, _ = env.do(t, http.MethodPost, "/api/person-info", `{"person_id":"p2","platform":"qq"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPut, "/api/person-info/1", `{"impression":"kind"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/person-info?person_name=ali", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"impression":"kind"`)
	assert.Contains(t, string(body.Data), `"forgotten_points":"[]"`)

	code, _ = env.do(t, http.MethodGet, "/api/person-info?pageSize=101", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodGet, "/api/person-info/platforms", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["qq"]`, string(body.Data))

	code, body = env.do(t, http.MethodGet, "/api/person-info/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"totalKnowTimes":3`)

	code, _ = env.do(t, http.MethodDelete, "/api/person-info/1", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodDelete, "/api/person-info/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ChatStreamLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	code, body := env.do(t, http.MethodPost, "/api/chat-streams",
		`{"stream_id":"s1","platform":"qq","user_id":"100","group_name":"fans"}`)
	require.Equal(t, http.StatusOK, code, body.Message)

	code, _ = env.do(t, http.MethodPut, "/api/chat-streams/1", `{"user_nickname":"bob"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/chat-streams?platform=qq&user_nickname=bo", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"stream_id":"s1"`)

	code, body = env.do(t, http.MethodGet, "/api/chat-streams/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"group_name":"fans"`)

	code, _ = env.do(t, http.MethodDelete, "/api/chat-streams/1", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/chat-streams/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_NoPrimaryDatabase(t *testing.T) {
	env := newTestEnv(t, Options{}, false)

	code, body := env.do(t, http.MethodGet, "/api/expression/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", body.Status)

	code, _ = env.do(t, http.MethodGet, "/api/database/maibot/info", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	for _, target := range []string{"/api/emoji/stats", "/api/person-info/platforms", "/api/chat-streams"} {
		code, _ = env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, code, target)
	}
}

func TestServer_DatabaseBrowse(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	for _, body := range []string{
		`{"situation":"a","style":"x","chat_id":"c","type":"style","count":1}`,
		`{"situation":"b","style":"y","chat_id":"c","type":"style","count":5}`,
		`{"situation":"c","style":"z","chat_id":"c","type":"grammar","count":9}`,
	} {
		code, _ := env.do(t, http.MethodPost, "/api/expression", body)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := env.do(t, http.MethodGet, "/api/database/connections", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"name":"maibot"`)
	assert.Contains(t, string(body.Data), `"connected":true`)

	code, body = env.do(t, http.MethodGet, "/api/database/maibot/tables/expression", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"row_count":3`)

	code, body = env.do(t, http.MethodGet, "/api/database/maibot/tables/expression/rows?count%20%3E%3D=5&orderBy=count&orderDir=desc", "")
	require.Equal(t, http.StatusOK, code)
	var page database.PageResult
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0]["situation"])

	code, _ = env.do(t, http.MethodGet, "/api/database/maibot/tables/expression/rows?orderBy=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/database/maibot/tables/expression/rows?bogus=1", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/database/maibot/tables/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodGet, "/api/database/other/tables/expression/rows", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = env.do(t, http.MethodGet, "/api/database/maibot/test", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"ok":true`)

	code, _ = env.do(t, http.MethodPost, "/api/database/reload", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_Maintenance(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	code, _ := env.do(t, http.MethodPost, "/api/database/maintenance", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	env.server.SetMaintenanceScheduler(maintenance.New(env.dbManager, ""))
	code, body := env.do(t, http.MethodPost, "/api/database/maintenance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"optimized":true`)

	code, body = env.do(t, http.MethodGet, "/api/database/maintenance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"last_run"`)
}

func TestServer_PathCacheAdapters(t *testing.T) {
	env := newTestEnv(t, Options{}, true)
	adapterDir := filepath.Join(env.dir, "adapter")
	require.NoError(t, os.MkdirAll(adapterDir, 0o755))

	body := `{"adapter_name":"napcat","root_path":"` + filepath.ToSlash(adapterDir) + `"}`
	code, _ := env.do(t, http.MethodPost, "/api/path-cache/adapters", body)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/path-cache/adapters", body)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/path-cache/adapters",
		`{"adapter_name":"ghost","root_path":"`+filepath.ToSlash(filepath.Join(env.dir, "nope"))+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := env.do(t, http.MethodGet, "/api/path-cache/adapters/napcat", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"adapter_name":"napcat"`)

	code, resp = env.do(t, http.MethodGet, "/api/path-cache", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"adapter_count":1`)

	code, _ = env.do(t, http.MethodDelete, "/api/path-cache/adapters/napcat", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodDelete, "/api/path-cache/adapters/napcat", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_SetMainRootReloadsPrimary(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	assert.False(t, env.dbManager.IsPrimaryConnected())

	root := filepath.Join(env.dir, "bot")
	dbPath := filepath.Join(root, filepath.FromSlash(pathcache.PrimaryDatabaseRelPath))
	conn := database.NewConnection(database.DefaultConnectionConfig(dbPath))
	require.NoError(t, conn.Connect())
	_, err := conn.ExecuteScript(botSchema)
	require.NoError(t, err)
	conn.Disconnect()

	code, body := env.do(t, http.MethodPut, "/api/path-cache/main-root", `{"path":"`+filepath.ToSlash(root)+`"}`)
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.Contains(t, string(body.Data), `"primary_connected":true`)
	assert.True(t, env.dbManager.IsPrimaryConnected())
}

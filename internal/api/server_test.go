package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectos/avro-schema-registry/internal/api/types"
	"github.com/vectos/avro-schema-registry/internal/config"
	"github.com/vectos/avro-schema-registry/internal/registry"
	"github.com/vectos/avro-schema-registry/internal/storage/memory"
)

const testSchema = `{"type":"record","name":"User","fields":[{"name":"id","type":"long"}]}`

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	store := memory.New()
	reg := registry.New(store, registry.Options{AutoCreateSubjects: true}, nil, nil)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(cfg, reg, logger, nil)
}

func TestServer_LivenessCheck(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ReadinessCheck(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "schema_registry_")
}

func TestServer_RegisterAndFetchSchema(t *testing.T) {
	server := setupTestServer(t)

	body, err := json.Marshal(types.RegisterSchemaRequest{Schema: testSchema})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/subjects/user-value/versions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reg types.RegisterSchemaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.Greater(t, reg.ID, int64(0))

	getReq := httptest.NewRequest(http.MethodGet, "/subjects/user-value/versions/latest", nil)
	getW := httptest.NewRecorder()
	server.ServeHTTP(getW, getReq)

	require.Equal(t, http.StatusOK, getW.Code)
	var vs types.SubjectVersionResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &vs))
	assert.Equal(t, reg.ID, vs.ID)
	assert.Equal(t, int32(1), vs.Version)
}

func TestServer_ListSubjects(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/subjects", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var subjects []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subjects))
	assert.Empty(t, subjects)
}

func TestServer_GlobalConfigRoundTrip(t *testing.T) {
	server := setupTestServer(t)

	body, err := json.Marshal(types.ConfigRequest{Compatibility: "FULL"})
	require.NoError(t, err)

	putReq := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(body))
	putReq.Header.Set("Content-Type", "application/json")
	putW := httptest.NewRecorder()
	server.ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/config", nil)
	getW := httptest.NewRecorder()
	server.ServeHTTP(getW, getReq)

	require.Equal(t, http.StatusOK, getW.Code)
	var cfg types.ConfigResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &cfg))
	assert.Equal(t, "FULL", cfg.Compatibility)
}

func TestServer_Address(t *testing.T) {
	server := setupTestServer(t)
	assert.Contains(t, server.Address(), "http://")
}

func TestServer_Router(t *testing.T) {
	server := setupTestServer(t)
	assert.NotNil(t, server.Router())
}

package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectos/avro-schema-registry/internal/api/handlers"
	"github.com/vectos/avro-schema-registry/internal/api/types"
	"github.com/vectos/avro-schema-registry/internal/registry"
	"github.com/vectos/avro-schema-registry/internal/storage/memory"
)

const schemaA = `{"type":"record","name":"User","fields":[{"name":"id","type":"long"}]}`
const schemaAB = `{"type":"record","name":"User","fields":[{"name":"id","type":"long"},{"name":"b","type":["null","string"],"default":null}]}`

func newTestHandler(t *testing.T) *handlers.Handler {
	t.Helper()
	store := memory.New()
	reg := registry.New(store, registry.Options{AutoCreateSubjects: true}, nil, nil)
	return handlers.New(reg)
}

func newRouter(h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/subjects", h.ListSubjects)
	r.Post("/subjects/{subject}", h.LookupSchema)
	r.Post("/subjects/{subject}/versions", h.RegisterSchema)
	r.Get("/subjects/{subject}/versions", h.GetVersions)
	r.Get("/subjects/{subject}/versions/{version}", h.GetVersion)
	r.Get("/subjects/{subject}/versions/{version}/schema", h.GetSchemaText)
	r.Get("/schemas/ids/{id}", h.GetSchemaByID)
	r.Post("/compatibility/subjects/{subject}/versions/{version}", h.CheckCompatibility)
	r.Get("/config", h.GetGlobalConfig)
	r.Put("/config", h.SetGlobalConfig)
	r.Get("/config/{subject}", h.GetSubjectConfig)
	r.Put("/config/{subject}", h.SetSubjectConfig)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerSchema(t *testing.T, r http.Handler, subject, schemaText string) int64 {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/subjects/"+subject+"/versions", types.RegisterSchemaRequest{Schema: schemaText})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.RegisterSchemaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func TestRegisterSchema_FirstRegistrationIsVersion1(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: schemaA})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.RegisterSchemaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Greater(t, resp.ID, int64(0))

	vw := doJSON(t, r, http.MethodGet, "/subjects/user-value/versions/1", nil)
	require.Equal(t, http.StatusOK, vw.Code)
	var v types.SubjectVersionResponse
	require.NoError(t, json.Unmarshal(vw.Body.Bytes(), &v))
	assert.Equal(t, int32(1), v.Version)
	assert.Equal(t, "user-value", v.Subject)
}

func TestRegisterSchema_Idempotent(t *testing.T) {
	r := newRouter(newTestHandler(t))

	id1 := registerSchema(t, r, "user-value", schemaA)
	id2 := registerSchema(t, r, "user-value", schemaA)
	assert.Equal(t, id1, id2)

	vw := doJSON(t, r, http.MethodGet, "/subjects/user-value/versions", nil)
	require.Equal(t, http.StatusOK, vw.Code)
	var versions []int32
	require.NoError(t, json.Unmarshal(vw.Body.Bytes(), &versions))
	assert.Len(t, versions, 1)
}

func TestRegisterSchema_BackwardCompatibleEvolution(t *testing.T) {
	r := newRouter(newTestHandler(t))

	registerSchema(t, r, "user-value", schemaA)
	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: schemaAB})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRegisterSchema_IncompatibleRejected(t *testing.T) {
	r := newRouter(newTestHandler(t))

	registerSchema(t, r, "user-value", schemaAB)
	// "id" changes from long to string: no Avro promotion reads one as the other.
	idAsString := `{"type":"record","name":"User","fields":[{"name":"id","type":"string"}]}`
	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: idAsString})
	require.Equal(t, http.StatusConflict, w.Code)

	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrorCodeIncompatibleSchema, errResp.ErrorCode)
}

func TestRegisterSchema_EmptySchemaIsBadRequest(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterSchema_InvalidAvroIsUnprocessable(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: "not json"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrorCodeInvalidSchema, errResp.ErrorCode)
}

func TestGetVersion_UnknownSubjectIs404(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodGet, "/subjects/nope/versions/1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrorCodeSubjectNotFound, errResp.ErrorCode)
}

func TestGetVersion_InvalidVersionToken(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodGet, "/subjects/user-value/versions/notanumber", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetVersion_Latest(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)
	registerSchema(t, r, "user-value", schemaAB)

	w := doJSON(t, r, http.MethodGet, "/subjects/user-value/versions/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v types.SubjectVersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, int32(2), v.Version)
}

func TestGetSchemaText(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodGet, "/subjects/user-value/versions/1/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// Unlike GET /schemas/ids/{id}, this endpoint's body is the raw schema
	// text, not a {"schema": "..."} envelope.
	assert.Equal(t, schemaA, w.Body.String())
	assert.NotContains(t, w.Body.String(), `"schema"`)
}

func TestGetSchemaByID(t *testing.T) {
	r := newRouter(newTestHandler(t))
	id := registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodGet, "/schemas/ids/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.SchemaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Schema)
}

func TestGetSchemaByID_Unknown(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodGet, "/schemas/ids/99999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookupSchema(t *testing.T) {
	r := newRouter(newTestHandler(t))
	id := registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value", types.RegisterSchemaRequest{Schema: schemaA})
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.SubjectVersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
}

func TestLookupSchema_NotRegistered(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value", types.RegisterSchemaRequest{Schema: schemaAB})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSubjects(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)
	registerSchema(t, r, "order-value", schemaA)

	w := doJSON(t, r, http.MethodGet, "/subjects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subjects []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subjects))
	assert.ElementsMatch(t, []string{"user-value", "order-value"}, subjects)
}

func TestCheckCompatibility_DiagnosticProbeIndependentOfPolicy(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)

	w := doJSON(t, r, http.MethodPost, "/compatibility/subjects/user-value/versions/1",
		types.RegisterSchemaRequest{Schema: schemaAB})
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.CompatibilityCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Compatibility)
}

func TestGlobalConfig_DefaultsToBackward(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BACKWARD", resp.Compatibility)
}

func TestGlobalConfig_SetAndGet(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPut, "/config", types.ConfigRequest{Compatibility: "FULL"})
	require.Equal(t, http.StatusOK, w.Code)

	gw := doJSON(t, r, http.MethodGet, "/config", nil)
	var resp types.ConfigResponse
	require.NoError(t, json.Unmarshal(gw.Body.Bytes(), &resp))
	assert.Equal(t, "FULL", resp.Compatibility)
}

func TestGlobalConfig_InvalidLevelRejected(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPut, "/config", types.ConfigRequest{Compatibility: "NOT_A_LEVEL"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSubjectConfig_OverridesGlobal(t *testing.T) {
	r := newRouter(newTestHandler(t))
	registerSchema(t, r, "user-value", schemaA)

	doJSON(t, r, http.MethodPut, "/config", types.ConfigRequest{Compatibility: "FULL"})
	doJSON(t, r, http.MethodPut, "/config/user-value", types.ConfigRequest{Compatibility: "NONE"})

	w := doJSON(t, r, http.MethodGet, "/config/user-value", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NONE", resp.Compatibility)

	gw := doJSON(t, r, http.MethodGet, "/config", nil)
	var gResp types.ConfigResponse
	require.NoError(t, json.Unmarshal(gw.Body.Bytes(), &gResp))
	assert.Equal(t, "FULL", gResp.Compatibility)
}

func TestSubjectConfig_MissingSubjectFoldsIntoGlobal(t *testing.T) {
	r := newRouter(newTestHandler(t))

	w := doJSON(t, r, http.MethodPut, "/config/never-registered", types.ConfigRequest{Compatibility: "FORWARD"})
	require.Equal(t, http.StatusOK, w.Code)

	gw := doJSON(t, r, http.MethodGet, "/config", nil)
	var resp types.ConfigResponse
	require.NoError(t, json.Unmarshal(gw.Body.Bytes(), &resp))
	assert.Equal(t, "FORWARD", resp.Compatibility)
}

func TestRegisterSchema_UnknownSubjectWithoutAutoCreate(t *testing.T) {
	store := memory.New()
	reg := registry.New(store, registry.Options{AutoCreateSubjects: false}, nil, nil)
	r := newRouter(handlers.New(reg))

	w := doJSON(t, r, http.MethodPost, "/subjects/user-value/versions", types.RegisterSchemaRequest{Schema: schemaA})
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrorCodeSubjectNotFound, errResp.ErrorCode)
}

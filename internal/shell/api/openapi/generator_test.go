package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name      string            `json:"name"`
	Count     int               `json:"count,omitempty"`
	Labels    map[string]string `json:"labels"`
	Seen      *time.Time        `json:"seen"`
	Internal  string            `json:"-"`
	unexposed string
}

type widgetRequest struct {
	Name string `json:"name"`
}

type widgetDetails struct {
	widget
	Notes string `json:"notes"`
}

func TestExtractSchema_FlattensEmbedded(t *testing.T) {
	g := NewGenerator()
	schema := g.extractSchema(reflect.TypeOf(widgetDetails{}))

	assert.Contains(t, schema.Value.Properties, "name")
	assert.Contains(t, schema.Value.Properties, "notes")
	assert.NotContains(t, schema.Value.Properties, "widget")
}

func testGenerator() *Generator {
	g := NewGenerator(WithTitle("Test API"), WithVersion("2.0.0"), WithServer("http://localhost:8585"))
	g.Register(
		Operation{Method: http.MethodGet, Path: "/api/v1/widgets", ID: "listWidgets", Tag: "Widgets",
			Response: []widget{},
			Query:    []Param{{Name: "limit", Type: "integer"}, {Name: "kind", Enum: []string{"a", "b"}}}},
		Operation{Method: http.MethodPost, Path: "/api/v1/widgets", ID: "createWidget", Tag: "Widgets",
			Request: widgetRequest{}, Status: http.StatusCreated, Response: widget{}},
		Operation{Method: http.MethodGet, Path: "/api/v1/widgets/{name}/log", ID: "widgetLog",
			ResponseText: true},
		Operation{Method: http.MethodDelete, Path: "/api/v1/widgets/{name}", ID: "deleteWidget",
			Status: http.StatusNoContent},
	)
	return g
}

func TestGenerate_Info(t *testing.T) {
	spec := testGenerator().Generate()

	assert.Equal(t, "3.0.3", spec.OpenAPI)
	assert.Equal(t, "Test API", spec.Info.Title)
	assert.Equal(t, "2.0.0", spec.Info.Version)
	require.Len(t, spec.Servers, 1)
	assert.Equal(t, "http://localhost:8585", spec.Servers[0].URL)
	assert.Contains(t, spec.Components.Schemas, "Error")
}

func TestGenerate_SharesPathItems(t *testing.T) {
	spec := testGenerator().Generate()

	item := spec.Paths.Value("/api/v1/widgets")
	require.NotNil(t, item)
	require.NotNil(t, item.Get)
	require.NotNil(t, item.Post)
	assert.Equal(t, "listWidgets", item.Get.OperationID)
	assert.Equal(t, "createWidget", item.Post.OperationID)
	assert.Empty(t, item.Parameters)
}

func TestGenerate_PathParameters(t *testing.T) {
	spec := testGenerator().Generate()

	item := spec.Paths.Value("/api/v1/widgets/{name}")
	require.NotNil(t, item)
	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "name", item.Parameters[0].Value.Name)
	assert.Equal(t, "path", item.Parameters[0].Value.In)
	assert.True(t, item.Parameters[0].Value.Required)
	require.NotNil(t, item.Delete)
	assert.NotNil(t, item.Delete.Responses.Value("204"))
}

func TestGenerate_QueryParameters(t *testing.T) {
	spec := testGenerator().Generate()

	params := spec.Paths.Value("/api/v1/widgets").Get.Parameters
	require.Len(t, params, 2)
	assert.Equal(t, "limit", params[0].Value.Name)
	assert.Equal(t, "query", params[0].Value.In)
	assert.True(t, params[0].Value.Schema.Value.Type.Is("integer"))
	assert.Equal(t, []any{"a", "b"}, params[1].Value.Schema.Value.Enum)
}

func TestGenerate_Schemas(t *testing.T) {
	spec := testGenerator().Generate()

	ref, ok := spec.Components.Schemas["widget"]
	require.True(t, ok, "named structs become components")
	props := ref.Value.Properties
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "count")
	assert.Contains(t, props, "labels")
	assert.NotContains(t, props, "Internal")
	assert.NotContains(t, props, "unexposed")
	assert.Equal(t, "date-time", props["seen"].Value.Format)
	assert.True(t, props["seen"].Value.Nullable)

	list := spec.Paths.Value("/api/v1/widgets").Get.Responses.Value("200")
	require.NotNil(t, list)
	schema := list.Value.Content.Get("application/json").Schema
	assert.True(t, schema.Value.Type.Is("array"))
	assert.Equal(t, "#/components/schemas/widget", schema.Value.Items.Ref)

	created := spec.Paths.Value("/api/v1/widgets").Post
	assert.NotNil(t, created.Responses.Value("201"))
	assert.Equal(t, "#/components/schemas/widgetRequest",
		created.RequestBody.Value.Content.Get("application/json").Schema.Ref)
}

func TestGenerate_TextResponse(t *testing.T) {
	spec := testGenerator().Generate()

	resp := spec.Paths.Value("/api/v1/widgets/{name}/log").Get.Responses.Value("200")
	require.NotNil(t, resp)
	assert.NotNil(t, resp.Value.Content.Get("text/plain"))
	assert.Nil(t, resp.Value.Content.Get("application/json"))
}

func TestGenerate_Cached(t *testing.T) {
	g := testGenerator()
	first := g.Generate()
	assert.Same(t, first, g.Generate())

	g.Register(Operation{Method: http.MethodGet, Path: "/api/v1/other", ID: "other"})
	second := g.Generate()
	assert.NotSame(t, first, second)
	assert.NotNil(t, second.Paths.Value("/api/v1/other"))
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil)
	w := httptest.NewRecorder()

	testGenerator().Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/api/v1/widgets")
}

package streamapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/internal/resource"
	"github.com/r3e-network/reactive-streams/pkg/config"
)

func testCatalog(t *testing.T, e *reactive.Engine) (*resource.Catalog, *reactive.Collection[string, int]) {
	t.Helper()
	base, err := reactive.NewBase[string, int](e, "test.counter")
	require.NoError(t, err)

	catalog := resource.NewCatalog()
	catalog.Register(resource.Resource{
		Name:   "counter",
		Schema: resource.Schema{},
		Factory: func(resource.Params) (resource.Leaf, error) {
			return resource.NewLeaf[string, int](base), nil
		},
	})
	return catalog, base
}

func TestCreateOpenDeleteStream(t *testing.T) {
	e := reactive.NewEngine(nil)
	catalog, base := testCatalog(t, e)
	registry := resource.NewInstanceRegistry(resource.RegistryConfig{})

	handler := New(e, catalog, registry, config.Config{}, nil)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	require.NoError(t, base.Set("a", 1))

	resp, err := http.Post(srv.URL+"/v1/streams/counter", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	instanceID, _ := created["instance_id"].(string)
	require.NotEmpty(t, instanceID)
	require.Equal(t, false, created["reused"])

	resp2, err := http.Post(srv.URL+"/v1/streams/counter", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	var reused map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&reused))
	require.Equal(t, true, reused["reused"])
	require.Equal(t, instanceID, reused["instance_id"])

	streamReq, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/streams/"+instanceID, nil)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(streamReq)
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))

	reader := bufio.NewReader(streamResp.Body)
	idLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "id: 1\n", idLine)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: init\n", eventLine)

	delReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/streams/"+instanceID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)
}

func TestCreateStreamUnknownResource(t *testing.T) {
	e := reactive.NewEngine(nil)
	catalog, _ := testCatalog(t, e)
	registry := resource.NewInstanceRegistry(resource.RegistryConfig{})
	handler := New(e, catalog, registry, config.Config{}, nil)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/streams/nope", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	e := reactive.NewEngine(nil)
	catalog, _ := testCatalog(t, e)
	registry := resource.NewInstanceRegistry(resource.RegistryConfig{})
	handler := New(e, catalog, registry, config.Config{}, nil)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

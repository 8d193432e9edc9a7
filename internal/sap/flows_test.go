package sap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchFlowsPreservesPackageOrder(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/api/v1/IntegrationPackages('pkg-a')/IntegrationDesigntimeArtifacts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"d":{"results":[
			{"Id":"flow-a1","Name":"Order Intake","Version":"1.0.0","PackageId":"pkg-a"},
			{"Id":"flow-a2","Name":"Order Confirm","Version":"1.0.1","PackageId":"pkg-a"}
		]}}`)
	})
	mux.HandleFunc("/api/v1/IntegrationPackages('pkg-b')/IntegrationDesigntimeArtifacts", func(w http.ResponseWriter, r *http.Request) {
		// PackageId omitted: the client fills in the requested package.
		fmt.Fprint(w, `{"d":{"results":[
			{"Id":"flow-b1","Name":"Invoice Sync","Description":"Nightly sync","Version":"2.1.0"}
		]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	flows, err := client.FetchFlows(context.Background(), []string{"pkg-b", "pkg-a"})
	require.NoError(t, err)
	require.Len(t, flows, 3)

	assert.Equal(t, "flow-b1", flows[0].ID)
	assert.Equal(t, "pkg-b", flows[0].PackageID)
	assert.Equal(t, "Nightly sync", flows[0].Description)
	assert.Equal(t, "flow-a1", flows[1].ID)
	assert.Equal(t, "flow-a2", flows[2].ID)
	assert.Equal(t, "pkg-a", flows[2].PackageID)
}

func TestFetchFlowsWrapsFailedPackage(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/api/v1/IntegrationPackages('pkg-ok')/IntegrationDesigntimeArtifacts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"d":{"results":[]}}`)
	})
	mux.HandleFunc("/api/v1/IntegrationPackages('pkg-bad')/IntegrationDesigntimeArtifacts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.FetchFlows(context.Background(), []string{"pkg-ok", "pkg-bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package pkg-bad")
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestFetchFlowsEmptyInput(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:0"))
	flows, err := client.FetchFlows(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestFetchFlowConfigurations(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/api/v1/IntegrationDesigntimeArtifacts(Id='flow-1',Version='1.0.5')/Configurations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"d":{"results":[
			{"ParameterKey":"endpointURL","ParameterValue":"https://backend.example.com","DataType":"xsd:string"},
			{"ParameterKey":"retryCount","ParameterValue":"3","DataType":"xsd:integer"}
		]}}`)
	})
	mux.HandleFunc("/api/v1/IntegrationDesigntimeArtifacts(Id='flow-1',Version='active')/Configurations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"d":{"results":[
			{"ParameterKey":"endpointURL","ParameterValue":"https://backend.example.com"}
		]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	configs, err := client.FetchFlowConfigurations(context.Background(), "flow-1", "1.0.5")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "endpointURL", configs[0].Key)
	assert.Equal(t, "https://backend.example.com", configs[0].Value)
	assert.Equal(t, "xsd:string", configs[0].Type)
	assert.Equal(t, "retryCount", configs[1].Key)

	// An empty version defaults to the active artifact.
	configs, err = client.FetchFlowConfigurations(context.Background(), "flow-1", "")
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Empty(t, configs[0].Type)
}

func TestDeployFlow(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/api/v1/DeployIntegrationDesigntimeArtifact", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "'flow-1'", r.URL.Query().Get("Id"))
		assert.Equal(t, "'active'", r.URL.Query().Get("Version"))
		fmt.Fprint(w, "task-811\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	taskID, err := client.DeployFlow(context.Background(), "flow-1", "")
	require.NoError(t, err)
	assert.Equal(t, "task-811", taskID)
}

package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/auth"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/errors"
)

func newTestClient(t *testing.T, endpoint string) *GraphQLClient {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Shop.Domain = "test.myshopify.com"
	cfg.Shop.AccessToken = "shpat_test"
	cfg.Limiter.BackoffBase = 1 // effectively no backoff in tests

	c, err := NewGraphQLClient(cfg, zap.NewNop(),
		WithEndpoint(endpoint),
		WithTokenSource(auth.StaticToken("shpat_test")),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestExecuteSendsAuthenticatedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "shpat_test", r.Header.Get(accessTokenHeader))
		w.Write([]byte(`{"data": {"shop": {"name": "Test Shop"}}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Execute(context.Background(), "query { shop { name } }", nil)
	require.NoError(t, err)

	var data struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	require.NoError(t, resp.DecodeData(&data))
	assert.Equal(t, "Test Shop", data.Shop.Name)
}

func TestExecuteSurfacesTopLevelErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors": [
			{"message": "Field 'nope' doesn't exist on type 'QueryRoot'"},
			{"message": "selection is invalid"}
		]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Execute(context.Background(), "query { nope }", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Contains(t, err.Error(), "doesn't exist")
	assert.Contains(t, err.Error(), "selection is invalid")
}

func TestExecuteRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Execute(context.Background(), "query { shop { name } }", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestResponseUserErrors(t *testing.T) {
	resp := &Response{Data: gojson.RawMessage(`{
		"webhookSubscriptionCreate": {
			"webhookSubscription": null,
			"userErrors": [
				{"field": ["webhookSubscription", "callbackUrl"], "message": "Address is invalid", "code": "INVALID"}
			]
		}
	}`)}

	uerrs := resp.UserErrors()
	require.Len(t, uerrs, 1)
	assert.Equal(t, "INVALID", uerrs[0].Code)

	err := resp.CheckUserErrors()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUserError))
	assert.Contains(t, err.Error(), "webhookSubscription, callbackUrl: Address is invalid")
}

func TestResponseUserErrorsAbsent(t *testing.T) {
	resp := &Response{Data: gojson.RawMessage(`{"shop": {"name": "Test"}}`)}
	assert.Nil(t, resp.UserErrors())
	assert.NoError(t, resp.CheckUserErrors())
}

func TestUserErrorsToErrorFallsBackOnMissingField(t *testing.T) {
	err := UserErrorsToError([]UserError{
		{Message: "something went wrong"},
		{Field: []string{"title"}, Message: "is too long"},
	})
	assert.Contains(t, err.Error(), "Unknown field: something went wrong")
	assert.Contains(t, err.Error(), "title: is too long")
}

func TestFlattenResponse(t *testing.T) {
	nested := map[string]interface{}{
		"products": map[string]interface{}{
			"edges": []interface{}{
				map[string]interface{}{"node": map[string]interface{}{
					"title": "Shirt",
					"variants": map[string]interface{}{
						"edges": []interface{}{
							map[string]interface{}{"node": map[string]interface{}{"sku": "S"}},
						},
					},
				}},
			},
		},
	}

	flat := FlattenResponse(nested).(map[string]interface{})
	products := flat["products"].([]interface{})
	require.Len(t, products, 1)

	product := products[0].(map[string]interface{})
	assert.Equal(t, "Shirt", product["title"])

	variants := product["variants"].([]interface{})
	require.Len(t, variants, 1)
	assert.Equal(t, "S", variants[0].(map[string]interface{})["sku"])
}

package clients

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/auth"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/errors"
	jsonpool "github.com/shopgraph/shopgraph/pkg/json"
	"github.com/shopgraph/shopgraph/pkg/observability"
)

// accessTokenHeader authenticates every Admin API request.
const accessTokenHeader = "X-Shopify-Access-Token"

// Request is a GraphQL request body.
type Request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Response is a GraphQL response envelope. Data is kept raw so callers can
// decode it into their own types.
type Response struct {
	Data   gojson.RawMessage `json:"data"`
	Errors []ResponseError   `json:"errors,omitempty"`
}

// ResponseError is a top-level GraphQL error.
type ResponseError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// UserError is a domain error reported inside a successful response, as
// found in any userErrors array. Code is machine-checkable where the API
// provides one (e.g. OPERATION_IN_PROGRESS).
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// GraphQLClient issues Admin API GraphQL requests through the cost-aware
// transport.
type GraphQLClient struct {
	endpoint  string
	tokens    auth.TokenSource
	client    *http.Client
	transport *CostAwareTransport
	logger    *zap.Logger
}

// Option customizes a GraphQLClient.
type Option func(*GraphQLClient)

// WithTokenSource overrides the access token source.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(c *GraphQLClient) {
		c.tokens = ts
	}
}

// WithEndpoint overrides the endpoint URL, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *GraphQLClient) {
		c.endpoint = endpoint
	}
}

// NewGraphQLClient constructs a client from configuration. The transport is
// owned by the returned client; Close releases it.
func NewGraphQLClient(cfg *config.Config, logger *zap.Logger, opts ...Option) (*GraphQLClient, error) {
	base := NewBaseTransport(cfg.Timeouts, logger)
	transport := NewCostAwareTransport(base, cfg.Limiter, logger)

	c := &GraphQLClient{
		endpoint:  cfg.Endpoint(),
		tokens:    auth.StaticToken(cfg.Shop.AccessToken),
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeouts.Request,
		},
		logger: logger.With(zap.String("component", "graphql_client")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Transport returns the cost-aware transport backing this client.
func (c *GraphQLClient) Transport() *CostAwareTransport {
	return c.transport
}

// Close stops background work owned by the client.
func (c *GraphQLClient) Close() {
	c.transport.Close()
}

// Execute posts a GraphQL query and decodes the response envelope.
// Top-level GraphQL errors become query errors; userErrors inside the data
// payload are left for the caller to inspect via Response.UserErrors or
// Response.CheckUserErrors.
func (c *GraphQLClient) Execute(ctx context.Context, query string, variables map[string]interface{}) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, "graphql.execute",
		attribute.String("graphql.endpoint", c.endpoint),
	)
	resp, err := c.execute(ctx, query, variables)
	observability.EndSpan(span, err)
	return resp, err
}

func (c *GraphQLClient) execute(ctx context.Context, query string, variables map[string]interface{}) (*Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := jsonpool.Marshal(Request{Query: query, Variables: variables})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, token)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeConnection, "unexpected status %d", httpResp.StatusCode).
			WithDetail("endpoint", c.endpoint)
	}

	var resp Response
	if err := jsonpool.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return &resp, errors.New(errors.ErrorTypeQuery, strings.Join(msgs, ", "))
	}

	return &resp, nil
}

// DecodeData unmarshals the data payload into v.
func (r *Response) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return errors.New(errors.ErrorTypeData, "response has no data")
	}
	if err := jsonpool.Unmarshal(r.Data, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode data payload")
	}
	return nil
}

// UserErrors scans the top-level data payload for the first userErrors
// array and returns it. The Admin API nests userErrors one level below the
// mutation name.
func (r *Response) UserErrors() []UserError {
	if len(r.Data) == 0 {
		return nil
	}

	var fields map[string]gojson.RawMessage
	if err := jsonpool.Unmarshal(r.Data, &fields); err != nil {
		return nil
	}

	for _, raw := range fields {
		var holder struct {
			UserErrors []UserError `json:"userErrors"`
		}
		if err := jsonpool.Unmarshal(raw, &holder); err != nil {
			continue
		}
		if len(holder.UserErrors) > 0 {
			return holder.UserErrors
		}
	}
	return nil
}

// CheckUserErrors converts any userErrors in the response into a user_error.
func (r *Response) CheckUserErrors() error {
	uerrs := r.UserErrors()
	if len(uerrs) == 0 {
		return nil
	}
	return UserErrorsToError(uerrs)
}

// UserErrorsToError formats user errors as "field: message" pairs joined
// with commas, matching the API's field path convention.
func UserErrorsToError(uerrs []UserError) *errors.Error {
	details := make([]string, 0, len(uerrs))
	for _, ue := range uerrs {
		field := "Unknown field"
		if len(ue.Field) > 0 {
			field = strings.Join(ue.Field, ", ")
		}
		details = append(details, field+": "+ue.Message)
	}
	return errors.New(errors.ErrorTypeUserError, strings.Join(details, ", "))
}

// FlattenResponse recursively rewrites connection wrappers
// {edges: [{node: x}]} into plain lists [x]. Maps and lists are walked;
// scalars are returned unchanged.
func FlattenResponse(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if edges, ok := val["edges"].([]interface{}); ok {
			nodes := make([]interface{}, 0, len(edges))
			for _, e := range edges {
				if em, ok := e.(map[string]interface{}); ok {
					nodes = append(nodes, FlattenResponse(em["node"]))
				}
			}
			return nodes
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = FlattenResponse(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			out = append(out, FlattenResponse(item))
		}
		return out
	default:
		return v
	}
}

package clients

import (
	jsonpool "github.com/shopgraph/shopgraph/pkg/json"
)

// ThrottleStatus is the server-reported bucket state. The API serializes
// these as JSON floats.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// QueryCost is the extensions.cost object attached to each GraphQL
// response. ActualQueryCost is null when the request was throttled before
// execution.
type QueryCost struct {
	RequestedQueryCost int            `json:"requestedQueryCost"`
	ActualQueryCost    *int           `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// Throttled reports whether the request was rejected server-side before
// execution.
func (c *QueryCost) Throttled() bool {
	return c.ActualQueryCost == nil
}

// costEnvelope decodes just enough of a response body to reach the cost
// extension.
type costEnvelope struct {
	Extensions struct {
		Cost *QueryCost `json:"cost"`
	} `json:"extensions"`
}

// extractQueryCost parses the cost extension out of a response body. A body
// that is not JSON or lacks the extension yields nil: the cost is unknown
// and no capacity adjustment is made.
func extractQueryCost(body []byte) *QueryCost {
	var env costEnvelope
	if err := jsonpool.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Extensions.Cost
}

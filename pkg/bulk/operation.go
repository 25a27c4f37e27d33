// Package bulk orchestrates Shopify Admin API bulk operations: submitting
// long-running queries, polling them to completion, and streaming the
// resulting JSONL export back as assembled, typed records.
package bulk

import (
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/shopgraph/shopgraph/pkg/clients"
)

// Status is a bulk operation lifecycle state as reported by the server.
// The client never mutates it; only polling responses do.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCanceling Status = "CANCELING"
	StatusCanceled  Status = "CANCELED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// InProgress reports whether the operation is still being worked on and
// should keep being polled.
func (s Status) InProgress() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCanceling:
		return true
	default:
		return false
	}
}

// Terminal reports whether the operation has reached a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Operation is the server-side bulk operation record. Counts are
// UnsignedInt64 scalars serialized as JSON strings, hence gojson.Number.
type Operation struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	Type            string        `json:"type"`
	Query           string        `json:"query"`
	ErrorCode       string        `json:"errorCode"`
	ObjectCount     gojson.Number `json:"objectCount"`
	RootObjectCount gojson.Number `json:"rootObjectCount"`
	FileSize        gojson.Number `json:"fileSize"`
	URL             string        `json:"url"`
	PartialDataURL  string        `json:"partialDataUrl"`
	CreatedAt       time.Time     `json:"createdAt"`
	CompletedAt     *time.Time    `json:"completedAt"`
}

// Objects returns the object count as a float, 0 when absent.
func (o *Operation) Objects() float64 {
	if o.ObjectCount == "" {
		return 0
	}
	n, err := strconv.ParseFloat(o.ObjectCount.String(), 64)
	if err != nil {
		return 0
	}
	return n
}

// conflictCode is the userErrors code reported when another bulk operation
// is already running for the shop.
const conflictCode = "OPERATION_IN_PROGRESS"

// IsConflict reports whether the user errors indicate a submission conflict
// with an already-running bulk operation.
func IsConflict(uerrs []clients.UserError) bool {
	for _, ue := range uerrs {
		if ue.Code == conflictCode {
			return true
		}
	}
	return false
}

package bulk

import (
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/errors"
	jsonpool "github.com/shopgraph/shopgraph/pkg/json"
	"github.com/shopgraph/shopgraph/pkg/metrics"
)

// BuilderFunc turns an assembled parent object, re-serialized as JSON, into
// the record emitted to the caller.
type BuilderFunc func(raw []byte) (interface{}, error)

// TypeSpec describes one top-level record type in a bulk result file.
type TypeSpec struct {
	// Connections maps a child line's __typename to the parent connection
	// field its node is appended under.
	Connections map[string]string
	// Build constructs the emitted record. When nil the raw assembled map
	// is emitted as-is.
	Build BuilderFunc
}

// Registry maps parent __typename values to their specs. Types are
// registered explicitly by the caller; nothing is discovered by reflection.
type Registry map[string]TypeSpec

// assembler reconstructs nested records from the flat JSONL lines of a bulk
// result. The export lists each parent immediately followed by its child
// lines, so only one parent is held in memory at a time: a line without a
// __parentId closes the pending parent and opens a new one.
type assembler struct {
	registry Registry
	logger   *zap.Logger

	pending   map[string]interface{}
	pendingID string
	spec      TypeSpec
}

func newAssembler(registry Registry, logger *zap.Logger) *assembler {
	return &assembler{
		registry: registry,
		logger:   logger,
	}
}

// feed consumes one JSONL line. When the line starts a new parent, the
// previously pending parent is finalized and returned with emitted=true.
func (a *assembler) feed(line []byte) (record interface{}, emitted bool, err error) {
	var obj map[string]interface{}
	if err := jsonpool.Unmarshal(line, &obj); err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeData, "malformed result line")
	}

	if parentID, ok := obj["__parentId"]; ok {
		a.attach(obj, parentID)
		return nil, false, nil
	}

	record, emitted, err = a.flush()
	a.open(obj)
	return record, emitted, err
}

// attach appends a child line to the pending parent's connection field.
// Children whose parent is not the pending one are orphans; they are logged
// and dropped rather than failing the stream.
func (a *assembler) attach(obj map[string]interface{}, parentID interface{}) {
	delete(obj, "__parentId")
	id, _ := parentID.(string)
	typename, _ := obj["__typename"].(string)

	if a.pending == nil || a.pendingID != id {
		a.logger.Warn("dropping orphaned child line",
			zap.String("parent_id", id),
			zap.String("typename", typename),
		)
		metrics.OrphanedChildren.Inc()
		return
	}

	field, ok := a.spec.Connections[typename]
	if !ok {
		a.logger.Warn("dropping child line with no connection mapping",
			zap.String("parent_id", id),
			zap.String("typename", typename),
		)
		metrics.OrphanedChildren.Inc()
		return
	}

	conn, ok := a.pending[field].(map[string]interface{})
	if !ok {
		conn = map[string]interface{}{"edges": []interface{}{}}
		a.pending[field] = conn
	}
	edges, _ := conn["edges"].([]interface{})
	conn["edges"] = append(edges, map[string]interface{}{"node": obj})
}

// open makes obj the pending parent, pre-seeding its declared connection
// fields with empty edge lists so childless parents still decode.
func (a *assembler) open(obj map[string]interface{}) {
	typename, _ := obj["__typename"].(string)
	spec := a.registry[typename]

	for _, field := range spec.Connections {
		if _, exists := obj[field]; !exists {
			obj[field] = map[string]interface{}{"edges": []interface{}{}}
		}
	}

	id, _ := obj["id"].(string)
	a.pending = obj
	a.pendingID = id
	a.spec = spec
}

// flush finalizes the pending parent, if any.
func (a *assembler) flush() (interface{}, bool, error) {
	if a.pending == nil {
		return nil, false, nil
	}

	obj, spec := a.pending, a.spec
	a.pending = nil
	a.pendingID = ""
	a.spec = TypeSpec{}

	if spec.Build == nil {
		return obj, true, nil
	}

	raw, err := jsonpool.Marshal(obj)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode assembled record")
	}
	record, err := spec.Build(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeData, "failed to build record")
	}
	return record, true, nil
}

package bulk

import (
	"bufio"
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/errors"
	"github.com/shopgraph/shopgraph/pkg/metrics"
)

// maxLineBytes bounds a single JSONL line. Metafield values and HTML
// descriptions can run long.
const maxLineBytes = 16 * 1024 * 1024

// RecordStream is a pull-driven iterator over the assembled records of a
// bulk result file. Usage follows bufio.Scanner:
//
//	for stream.Next() {
//	    record := stream.Record()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The stream is single-use; the underlying download is consumed exactly
// once and is not retained in memory beyond the current parent record.
type RecordStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	asm     *assembler

	record interface{}
	err    error
	done   bool
}

func newRecordStream(body io.ReadCloser, registry Registry, logger *zap.Logger) *RecordStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &RecordStream{
		body:    body,
		scanner: scanner,
		asm:     newAssembler(registry, logger),
	}
}

// newEmptyStream is returned for operations that finished without a result
// file, so callers always get a drainable stream.
func newEmptyStream() *RecordStream {
	return &RecordStream{done: true}
}

// Next advances to the next record. It returns false at end of stream or on
// error; check Err afterwards.
func (s *RecordStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		record, emitted, err := s.asm.feed(line)
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if emitted {
			s.record = record
			metrics.BulkRecordsStreamed.Inc()
			return true
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = errors.Wrap(err, errors.ErrorTypeConnection, "result stream interrupted")
		return false
	}

	// End of file: the last parent is still pending.
	record, emitted, err := s.asm.flush()
	if err != nil {
		s.err = err
		return false
	}
	if emitted {
		s.record = record
		metrics.BulkRecordsStreamed.Inc()
		return true
	}
	return false
}

// Record returns the record produced by the last successful Next call.
func (s *RecordStream) Record() interface{} {
	return s.record
}

// Err returns the first error encountered while streaming, if any.
func (s *RecordStream) Err() error {
	return s.err
}

// Close releases the underlying download. Safe to call on an empty stream.
func (s *RecordStream) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

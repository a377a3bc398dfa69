// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes every result as its own analysis.json document. It is
// thread safe.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	logger *zap.Logger
	pretty bool
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		pretty: pretty,
	}
}

// Write encodes result immediately.
func (r *JSONReporter) Write(result *core.Result) error {
	data, err := Marshal(result, r.pretty)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write analysis results: %w", err)
	}
	r.logger.Debug("Wrote analysis results", zap.String("run_id", result.RunID.String()), zap.Int("bytes", len(data)))
	return nil
}

// Close closes the underlying writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}

// Marshal encodes a result the way analysis.json stores it.
func Marshal(result *core.Result, pretty bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis results: %w", err)
	}
	return data, nil
}

// -- internal/reporting/reporter.go --
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
)

// Report formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
	FormatBoth  = "both"
)

// Reporter writes analysis results to an output.
type Reporter interface {
	core.Reporter
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath, or to stdout when
// outputPath is empty or "stdout".
func New(format, outputPath, toolVersion string, pretty bool) (Reporter, error) {
	switch format {
	case FormatJSON, FormatSARIF:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == FormatSARIF {
		return NewSARIFReporter(writer, toolVersion)
	}
	return NewJSONReporter(writer, pretty), nil
}

// ForResult creates the reporter of one analysis: analysis.json at jsonPath,
// a SARIF log next to it with the .sarif extension, or both.
func ForResult(format, jsonPath, toolVersion string, pretty bool) (Reporter, error) {
	switch format {
	case FormatJSON:
		return New(FormatJSON, jsonPath, toolVersion, pretty)
	case FormatSARIF:
		return New(FormatSARIF, SARIFPath(jsonPath), toolVersion, pretty)
	case FormatBoth:
		j, err := New(FormatJSON, jsonPath, toolVersion, pretty)
		if err != nil {
			return nil, err
		}
		s, err := New(FormatSARIF, SARIFPath(jsonPath), toolVersion, pretty)
		if err != nil {
			_ = j.Close()
			return nil, err
		}
		return multiReporter{j, s}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// SARIFPath derives the SARIF log location from an analysis.json location.
func SARIFPath(jsonPath string) string {
	if jsonPath == "" || jsonPath == "stdout" {
		return jsonPath
	}
	return strings.TrimSuffix(jsonPath, ".json") + ".sarif"
}

type multiReporter []Reporter

func (m multiReporter) Write(result *core.Result) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Write(result))
	}
	return errors.Join(errs...)
}

func (m multiReporter) Close() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

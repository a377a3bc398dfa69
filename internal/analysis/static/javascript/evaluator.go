// Filename: javascript/evaluator.go
package javascript

import (
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// DefaultFoldTimeout bounds a single constant-folding evaluation.
const DefaultFoldTimeout = 50 * time.Millisecond

const maxFoldCache = 4096

var binaryOperators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true,
	"==": true, "!=": true, "===": true, "!==": true,
	"<": true, ">": true, "<=": true, ">=": true,
	"<<": true, ">>": true, ">>>": true, "&": true, "|": true, "^": true,
	"&&": true, "||": true, "??": true,
}

var unaryOperators = map[string]bool{
	"!": true, "-": true, "+": true, "~": true, "typeof": true, "void": true,
}

type foldResult struct {
	value any
	ok    bool
}

// Evaluator folds operators over constant operands with a sandboxed
// JavaScript VM, so coercions ("1" + 2, typeof null) match the language.
// It implements pdg.Folder and is safe for concurrent use.
type Evaluator struct {
	vm      *goja.Runtime
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.Mutex // -- serializes VM access and guards cache --
	cache map[string]foldResult
}

var _ pdg.Folder = (*Evaluator)(nil)

// NewEvaluator creates an evaluator with its own VM.
func NewEvaluator(logger *zap.Logger, timeout time.Duration) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultFoldTimeout
	}
	return &Evaluator{
		vm:      goja.New(),
		logger:  logger.Named("js_evaluator"),
		timeout: timeout,
		cache:   make(map[string]foldResult),
	}
}

// Fold evaluates operator applied to one (unary) or two (binary) constants.
func (e *Evaluator) Fold(operator string, operands ...any) (any, bool) {
	expr, ok := foldExpression(operator, operands)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if res, hit := e.cache[expr]; hit {
		return res.value, res.ok
	}
	value, ok := e.run(expr)
	if len(e.cache) >= maxFoldCache {
		e.cache = make(map[string]foldResult)
	}
	e.cache[expr] = foldResult{value: value, ok: ok}
	return value, ok
}

// run executes expr under the interrupt timer. Callers hold e.mu.
func (e *Evaluator) run(expr string) (any, bool) {
	timer := time.AfterFunc(e.timeout, func() {
		e.vm.Interrupt("fold timeout")
	})
	defer func() {
		timer.Stop()
		e.vm.ClearInterrupt()
	}()

	result, err := e.vm.RunString(expr)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			e.logger.Debug("Constant folding interrupted", zap.Duration("timeout", e.timeout))
		}
		return nil, false
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, false
	}
	switch v := result.Export().(type) {
	case string:
		return v, true
	case bool:
		return v, true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return nil, false
}

// foldExpression renders the operation as a JavaScript source expression.
func foldExpression(operator string, operands []any) (string, bool) {
	literals := make([]string, 0, len(operands))
	for _, op := range operands {
		lit, ok := jsLiteral(op)
		if !ok {
			return "", false
		}
		literals = append(literals, lit)
	}
	switch {
	case len(literals) == 2 && binaryOperators[operator]:
		return "(" + literals[0] + ") " + operator + " (" + literals[1] + ")", true
	case len(literals) == 1 && unaryOperators[operator]:
		return operator + " (" + literals[0] + ")", true
	}
	return "", false
}

func jsLiteral(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if len(t) > pdg.LimitSize {
			return "", false
		}
		b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	case float64:
		return pdg.FormatNumber(t), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

// Package filter provides the CEL message-filter extension. A configured
// expression is evaluated per message; a false result suppresses it.
package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/extension"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

// ExtensionID is the registry id of the filter extension.
const ExtensionID = "filter"

// maxExpressionLength caps configured CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// expression from stalling the message path.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket nesting in expressions.
const maxNestingDepth = 50

// config is the extension's --extension-config section.
type config struct {
	// Expression is a CEL expression over the variables
	// method (string), direction (string), and has_id (bool).
	// Messages for which it evaluates to false are suppressed.
	Expression string `json:"expression"`
}

// Extension evaluates the configured expression on every message.
type Extension struct {
	prg cel.Program
}

// New creates the filter extension.
func New() *Extension {
	return &Extension{}
}

// ID implements extension.Extension.
func (e *Extension) ID() string { return ExtensionID }

// Description implements extension.Extension.
func (e *Extension) Description() string {
	return "suppress messages for which a CEL expression evaluates to false"
}

// Init compiles the expression and registers the filter hooks.
func (e *Extension) Init(ctx context.Context, host *extension.Host) error {
	var cfg config
	if host.Config != nil {
		if err := json.Unmarshal(host.Config, &cfg); err != nil {
			return fmt.Errorf("parse filter config: %w", err)
		}
	}
	if cfg.Expression == "" {
		return errors.New(`filter extension requires an "expression" config entry`)
	}
	if err := validateExpression(cfg.Expression); err != nil {
		return err
	}

	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("has_id", cel.BoolType),
	)
	if err != nil {
		return fmt.Errorf("create filter environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile filter expression: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return fmt.Errorf("build filter program: %w", err)
	}
	e.prg = prg

	host.Hooks.RegisterMessageHook(hook.BeforeStdinForward, ExtensionID, e.apply)
	host.Hooks.RegisterMessageHook(hook.AfterStdoutReceive, ExtensionID, e.apply)
	host.Logger.Info("message filter active", "expression", cfg.Expression)
	return nil
}

// apply evaluates the expression. false suppresses the message; evaluation
// errors propagate to the bus, which logs and passes the message through.
func (e *Extension) apply(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	out, _, err := e.prg.Eval(map[string]interface{}{
		"method":    msg.Method(),
		"direction": msg.Direction.String(),
		"has_id":    msg.RawID() != nil,
	})
	if err != nil {
		return msg, fmt.Errorf("evaluate filter expression: %w", err)
	}
	allow, ok := out.Value().(bool)
	if !ok {
		return msg, fmt.Errorf("filter expression returned %T, want bool", out.Value())
	}
	if !allow {
		return nil, nil
	}
	return msg, nil
}

// Close implements extension.Extension.
func (e *Extension) Close() error {
	return nil
}

// validateExpression enforces the expression safety caps.
func validateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("filter expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("filter expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Compile-time check that Extension implements extension.Extension.
var _ extension.Extension = (*Extension)(nil)

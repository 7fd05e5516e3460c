package service

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
)

// celFilter wraps a compiled CEL program evaluated per entry during query
// walks. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("severity", cel.StringType),
		cel.Variable("agent", cel.StringType),
		cel.Variable("project", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		// Entry position within its segment and the segment's sequence number.
		cel.Variable("seq", cel.IntType),
		cel.Variable("segment", cel.IntType),
		// Metadata pairs as a string map for field filtering.
		cel.Variable("meta", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against one entry. When disabled,
// returns true; evaluation errors exclude the entry rather than failing the
// walk.
func (f celFilter) Eval(segSeq uint64, pos int, e entry.Entry) bool {
	if !f.enabled {
		return true
	}
	meta := e.MetaMap()
	if meta == nil {
		meta = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"severity": e.Severity.String(),
		"agent":    e.Agent,
		"project":  e.Project,
		"message":  e.Message,
		"id":       e.ID,
		"ts_ms":    e.Timestamp.UnixMilli(),
		"now_ms":   time.Now().UnixMilli(),
		"seq":      int64(pos),
		"segment":  int64(segSeq),
		"meta":     meta,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

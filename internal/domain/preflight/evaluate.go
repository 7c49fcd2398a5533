package preflight

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"

	"github.com/Strob0t/OpsPilot/internal/domain/target"
)

// builtin describes how a check kind is evaluated and explained.
type builtin struct {
	expr     string
	required []string
	explain  func(params, snap map[string]any, pass bool) string
}

var builtins = map[Kind]builtin{
	KindMinDisk: {
		expr:     `snapshot.disk_free_gb >= params.need_gb`,
		required: []string{"need_gb"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return fmt.Sprintf("disk space ok: need_gb=%s, have_gb=%s", num(p["need_gb"]), num(s["disk_free_gb"]))
			}
			return fmt.Sprintf("insufficient disk space: need_gb=%s, have_gb=%s", num(p["need_gb"]), num(s["disk_free_gb"]))
		},
	},
	KindMaxCPU: {
		expr:     `snapshot.cpu_percent <= params.max_percent`,
		required: []string{"max_percent"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return fmt.Sprintf("cpu usage %s%% within ceiling %s%%", num(s["cpu_percent"]), num(p["max_percent"]))
			}
			return fmt.Sprintf("cpu usage %s%% exceeds ceiling %s%%", num(s["cpu_percent"]), num(p["max_percent"]))
		},
	},
	KindMaxMemory: {
		expr:     `snapshot.memory_percent <= params.max_percent`,
		required: []string{"max_percent"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return fmt.Sprintf("memory usage %s%% within ceiling %s%%", num(s["memory_percent"]), num(p["max_percent"]))
			}
			return fmt.Sprintf("memory usage %s%% exceeds ceiling %s%%", num(s["memory_percent"]), num(p["max_percent"]))
		},
	},
	KindPortsOpen: {
		expr:     `params.ports.all(p, p in snapshot.open_ports)`,
		required: []string{"ports"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return "required ports open: " + joinNums(p["ports"])
			}
			return "ports not open: " + joinNums(portDiff(p["ports"], s["open_ports"], false))
		},
	},
	KindPortsClosed: {
		expr:     `params.ports.all(p, !(p in snapshot.open_ports))`,
		required: []string{"ports"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return "required ports closed: " + joinNums(p["ports"])
			}
			return "ports unexpectedly open: " + joinNums(portDiff(p["ports"], s["open_ports"], true))
		},
	},
	KindMinUptime: {
		expr:     `snapshot.uptime_seconds >= params.min_seconds`,
		required: []string{"min_seconds"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return fmt.Sprintf("uptime %ss meets minimum %ss", num(s["uptime_seconds"]), num(p["min_seconds"]))
			}
			return fmt.Sprintf("uptime %ss below minimum %ss", num(s["uptime_seconds"]), num(p["min_seconds"]))
		},
	},
	KindHeartbeat: {
		expr:     `snapshot.heartbeat_age_seconds <= params.max_age_seconds`,
		required: []string{"max_age_seconds"},
		explain: func(p, s map[string]any, pass bool) string {
			if pass {
				return fmt.Sprintf("heartbeat %ss old, limit %ss", num(s["heartbeat_age_seconds"]), num(p["max_age_seconds"]))
			}
			return fmt.Sprintf("heartbeat stale: age %ss exceeds %ss", num(s["heartbeat_age_seconds"]), num(p["max_age_seconds"]))
		},
	},
}

// Evaluator runs check specs against a target snapshot. Built-in kinds and
// custom expressions are compiled to CEL programs once and cached.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates an Evaluator with the snapshot and params variables declared.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("snapshot", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Evaluate runs one check. It never returns pending: evaluation problems
// (unknown kind, missing params, bad expression) are reported as failures.
func (e *Evaluator) Evaluate(spec Spec, snap *target.Snapshot) Check {
	c := Check{Name: spec.CheckName(), Kind: spec.Kind}
	if err := spec.Validate(); err != nil {
		return fail(c, err.Error())
	}
	if snap == nil {
		return fail(c, "target snapshot unavailable")
	}

	params, _ := normalize(spec.Params).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	fields := snap.Fields()

	switch spec.Kind {
	case KindOSMatch:
		return evaluateOS(c, params, snap)
	case KindExpr:
		expr, _ := params["expr"].(string)
		if expr == "" {
			return fail(c, "invalid check: missing expr")
		}
		ok, err := e.eval(expr, params, fields)
		if err != nil {
			return fail(c, err.Error())
		}
		return verdict(c, ok, fmt.Sprintf("expression %q evaluated to %t", expr, ok))
	}

	b := builtins[spec.Kind]
	for _, key := range b.required {
		if _, ok := params[key]; !ok {
			return fail(c, "invalid check: missing "+key)
		}
	}
	ok, err := e.eval(b.expr, params, fields)
	if err != nil {
		return fail(c, err.Error())
	}
	return verdict(c, ok, b.explain(params, fields, ok))
}

func (e *Evaluator) eval(expr string, params, fields map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"snapshot": fields, "params": params})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return a bool", expr)
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// evaluateOS matches the OS name case-insensitively and the version against
// a semver constraint such as ">= 22.4".
func evaluateOS(c Check, params map[string]any, snap *target.Snapshot) Check {
	wantOS, _ := params["os"].(string)
	constraint, _ := params["version"].(string)
	if wantOS == "" && constraint == "" {
		return fail(c, "invalid check: missing os or version")
	}
	if wantOS != "" && !strings.EqualFold(wantOS, snap.OS) {
		return fail(c, fmt.Sprintf("os mismatch: want %s, have %s", wantOS, snap.OS))
	}
	if constraint != "" {
		cons, err := semver.NewConstraint(stripLeadingZeros(constraint))
		if err != nil {
			return fail(c, fmt.Sprintf("invalid version constraint %q: %v", constraint, err))
		}
		v, err := semver.NewVersion(stripLeadingZeros(snap.OSVersion))
		if err != nil {
			return fail(c, fmt.Sprintf("unparseable os version %q", snap.OSVersion))
		}
		if !cons.Check(v) {
			return fail(c, fmt.Sprintf("os version %s does not satisfy %s", snap.OSVersion, constraint))
		}
	}
	return verdict(c, true, fmt.Sprintf("os %s %s matches", snap.OS, snap.OSVersion))
}

// leadingZeros matches zero-padded version components such as the "04" in "22.04".
var leadingZeros = regexp.MustCompile(`(^|[^0-9])0+([0-9])`)

func stripLeadingZeros(v string) string {
	return leadingZeros.ReplaceAllString(v, "${1}${2}")
}

func verdict(c Check, ok bool, msg string) Check {
	c.Status = StatusFail
	if ok {
		c.Status = StatusPass
	}
	c.Message = msg
	return c
}

func fail(c Check, msg string) Check {
	return verdict(c, false, msg)
}

// normalize converts numbers to float64 and typed slices to []any so that
// values decoded from YAML and JSON compare the same way in expressions.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func num(v any) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinNums(v any) string {
	list, _ := v.([]any)
	parts := make([]string, 0, len(list))
	for _, item := range list {
		parts = append(parts, num(item))
	}
	return strings.Join(parts, ", ")
}

// portDiff returns the wanted ports that are open (open=true) or not open (open=false).
func portDiff(wanted, have any, open bool) []any {
	w, _ := wanted.([]any)
	h, _ := have.([]any)
	var out []any
	for _, p := range w {
		if slices.Contains(h, p) == open {
			out = append(out, p)
		}
	}
	return out
}

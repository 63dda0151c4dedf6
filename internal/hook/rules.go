package hook

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML form of a rule script.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec rewrites or excludes one column. When and Set are CEL
// expressions over table, column, value and row.
type RuleSpec struct {
	Table   string `yaml:"table"`
	Column  string `yaml:"column"`
	When    string `yaml:"when"`
	Set     string `yaml:"set"`
	Exclude bool   `yaml:"exclude"`
}

type rule struct {
	spec RuleSpec
	when cel.Program
	set  cel.Program
}

// Rules is a Hook backed by compiled CEL rules.
type Rules struct {
	rules []rule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("table", cel.StringType),
		cel.Variable("column", cel.StringType),
		cel.Variable("value", cel.StringType),
		cel.Variable("row", cel.MapType(cel.StringType, cel.StringType)),
		ext.Strings(),
	)
}

// LoadRules reads and compiles a YAML rule script.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook script: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse hook script %s: %w", path, err)
	}
	return Compile(file.Rules)
}

func Compile(specs []RuleSpec) (*Rules, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]rule, 0, len(specs))
	for i, spec := range specs {
		if spec.Column == "" {
			return nil, fmt.Errorf("rule %d: column is required", i+1)
		}
		if spec.Set == "" && !spec.Exclude {
			return nil, fmt.Errorf("rule %d: either set or exclude is required", i+1)
		}

		r := rule{spec: spec}
		if spec.When != "" {
			if r.when, err = compile(env, spec.When, cel.BoolType); err != nil {
				return nil, fmt.Errorf("rule %d: when: %w", i+1, err)
			}
		}
		if spec.Set != "" {
			if r.set, err = compile(env, spec.Set, cel.StringType); err != nil {
				return nil, fmt.Errorf("rule %d: set: %w", i+1, err)
			}
		}
		rules = append(rules, r)
	}
	return &Rules{rules: rules}, nil
}

func compile(env *cel.Env, expr string, want *cel.Type) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(want) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q returns %s, expected %s", expr, ast.OutputType(), want)
	}
	return env.Program(ast)
}

func (rs *Rules) BeforeInsert(table string, r Row) error {
	for _, rl := range rs.rules {
		if rl.spec.Table != "*" && !strings.EqualFold(rl.spec.Table, table) {
			continue
		}
		idx := r.IndexOfColumn(rl.spec.Column)
		if idx < 0 {
			continue
		}

		vars := map[string]any{
			"table":  table,
			"column": r.Column(idx),
			"value":  r.Value(idx),
			"row":    snapshot(r),
		}

		if rl.when != nil {
			out, _, err := rl.when.Eval(vars)
			if err != nil {
				return fmt.Errorf("rule on %s.%s: %w", table, rl.spec.Column, err)
			}
			if ok, isBool := out.Value().(bool); !isBool || !ok {
				continue
			}
		}

		if rl.spec.Exclude {
			if !r.Exclude(idx) {
				return fmt.Errorf("rule on %s.%s: key columns cannot be excluded", table, rl.spec.Column)
			}
			continue
		}

		out, _, err := rl.set.Eval(vars)
		if err != nil {
			return fmt.Errorf("rule on %s.%s: %w", table, rl.spec.Column, err)
		}
		str := out.ConvertToType(types.StringType)
		if types.IsError(str) {
			return fmt.Errorf("rule on %s.%s: %v", table, rl.spec.Column, str.Value())
		}
		r.SetValue(idx, str.Value().(string))
	}
	return nil
}

func snapshot(r Row) map[string]string {
	values := make(map[string]string, r.Count())
	for i := 0; i < r.Count(); i++ {
		values[r.Column(i)] = r.Value(i)
	}
	return values
}

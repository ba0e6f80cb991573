package dsl

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Validator 定义文件结构验证器。图结构（环、起始节点）由 workflow.Validate 负责。
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证定义文件
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	} else if dsl.Version != "1" {
		errs = append(errs, fmt.Errorf("unsupported version %q", dsl.Version))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	for name, def := range dsl.Variables {
		if !validVarTypes[def.Type] {
			errs = append(errs, fmt.Errorf("variable %s: invalid type %q", name, def.Type))
			continue
		}
		if def.Default != nil {
			if err := checkVarType(def.Type, def.Default); err != nil {
				errs = append(errs, fmt.Errorf("variable %s: default %w", name, err))
			}
		}
	}

	nodeIDs := make(map[string]bool)
	for _, node := range dsl.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if nodeIDs[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = true
	}

	for i := range dsl.Nodes {
		errs = append(errs, v.validateNode(&dsl.Nodes[i], nodeIDs)...)
	}

	if eh := dsl.ErrorHandling; eh != nil {
		switch eh.RecoveryStrategy {
		case "fallback":
			if len(eh.FallbackNodes) == 0 {
				errs = append(errs, fmt.Errorf("error_handling: fallback requires fallback_nodes"))
			}
		case "compensate":
			if len(eh.CompensationNodes) == 0 {
				errs = append(errs, fmt.Errorf("error_handling: compensate requires compensation_nodes"))
			}
		}
		for _, n := range append(append([]NodeDef{}, eh.FallbackNodes...), eh.CompensationNodes...) {
			if n.ID == "" || n.Type == "" {
				errs = append(errs, fmt.Errorf("error_handling: recovery node requires id and type"))
			}
		}
	}

	errs = append(errs, v.validateReferences(dsl)...)
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, nodeIDs map[string]bool) []error {
	var errs []error

	if node.Type == "" {
		errs = append(errs, fmt.Errorf("node %s: type is required", node.ID))
	}
	switch node.ExecutionStrategy {
	case "", "sequential", "parallel":
	default:
		errs = append(errs, fmt.Errorf("node %s: invalid execution_strategy %q", node.ID, node.ExecutionStrategy))
	}

	if node.Type == "condition" {
		if node.Expression == "" {
			errs = append(errs, fmt.Errorf("node %s: condition node requires expression", node.ID))
		}
		if len(node.OnTrue) == 0 && len(node.OnFalse) == 0 {
			errs = append(errs, fmt.Errorf("node %s: condition node requires on_true or on_false", node.ID))
		}
	} else if len(node.OnTrue) > 0 || len(node.OnFalse) > 0 {
		errs = append(errs, fmt.Errorf("node %s: on_true/on_false only apply to condition nodes", node.ID))
	}

	for _, group := range [][]string{node.Next, node.OnTrue, node.OnFalse} {
		for _, target := range group {
			if !nodeIDs[target] {
				errs = append(errs, fmt.Errorf("node %s: references unknown node %q", node.ID, target))
			}
		}
	}
	return errs
}

// validateReferences 检查 ${var} 引用的变量均已定义
func (v *Validator) validateReferences(dsl *WorkflowDSL) []error {
	var errs []error
	check := func(where, s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			if _, ok := dsl.Variables[m[1]]; !ok {
				errs = append(errs, fmt.Errorf("%s: undefined variable %q", where, m[1]))
			}
		}
	}
	var walk func(where string, val any)
	walk = func(where string, val any) {
		switch t := val.(type) {
		case string:
			check(where, t)
		case map[string]any:
			for k, item := range t {
				walk(where+"."+k, item)
			}
		case []any:
			for _, item := range t {
				walk(where, item)
			}
		}
	}

	nodes := dsl.Nodes
	if eh := dsl.ErrorHandling; eh != nil {
		nodes = append(append(append([]NodeDef{}, nodes...), eh.FallbackNodes...), eh.CompensationNodes...)
	}
	for _, n := range nodes {
		where := "node " + n.ID
		check(where, n.Condition)
		check(where, n.Expression)
		walk(where+" parameters", n.Parameters)
	}
	return errs
}

var validVarTypes = map[string]bool{
	"string": true, "int": true, "float": true, "bool": true, "list": true, "map": true,
}

func checkVarType(typ string, val any) error {
	ok := false
	switch typ {
	case "string":
		_, ok = val.(string)
	case "int":
		switch val.(type) {
		case int, int64, uint64:
			ok = true
		}
	case "float":
		switch val.(type) {
		case float64, int, int64:
			ok = true
		}
	case "bool":
		_, ok = val.(bool)
	case "list":
		_, ok = val.([]any)
	case "map":
		_, ok = val.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("value %v (%T) is not of type %s", val, val, typ)
	}
	return nil
}

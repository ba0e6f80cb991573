package dsl

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/mailflow/workflow"
	"github.com/BaSui01/mailflow/workflow/expr"
)

// Parser 定义文件解析器
type Parser struct {
	// overrides 调用方提供的变量值，优先于默认值
	overrides map[string]any
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{overrides: make(map[string]any)}
}

// WithVariables 设置变量值（覆盖默认值）
func (p *Parser) WithVariables(vars map[string]any) *Parser {
	for k, v := range vars {
		p.overrides[k] = v
	}
	return p
}

// ParseFile 从文件解析
func (p *Parser) ParseFile(filename string) (*workflow.Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析为 workflow.Definition
func (p *Parser) Parse(data []byte) (*workflow.Definition, error) {
	var dsl WorkflowDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	// 1. 结构验证
	if errs := NewValidator().Validate(&dsl); len(errs) > 0 {
		return nil, fmt.Errorf("validate definition: %w", errors.Join(errs...))
	}

	// 2. 解析变量
	vars, err := p.resolveVariables(dsl.Variables)
	if err != nil {
		return nil, err
	}

	// 3. 构建定义
	def, err := p.build(&dsl, vars)
	if err != nil {
		return nil, err
	}

	// 4. 图结构验证与表达式语法检查
	if err := workflow.Validate(def); err != nil {
		return nil, err
	}
	if err := checkExpressions(def); err != nil {
		return nil, err
	}
	return def, nil
}

// resolveVariables 合并默认值与调用方覆盖值
func (p *Parser) resolveVariables(defs map[string]VariableDef) (map[string]any, error) {
	vars := make(map[string]any, len(defs))
	var errs []error
	for name, def := range defs {
		if v, ok := p.overrides[name]; ok {
			if err := checkVarType(def.Type, v); err != nil {
				errs = append(errs, fmt.Errorf("variable %s: %w", name, err))
				continue
			}
			vars[name] = v
			continue
		}
		if def.Default != nil {
			vars[name] = def.Default
			continue
		}
		if def.Required {
			errs = append(errs, fmt.Errorf("variable %s is required", name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return vars, nil
}

func (p *Parser) build(dsl *WorkflowDSL, vars map[string]any) (*workflow.Definition, error) {
	def := &workflow.Definition{
		Name:        dsl.Name,
		Description: dsl.Description,
		Strategy:    workflow.OrchestrationStrategy(dsl.Strategy),
	}

	seen := make(map[[2]string]bool)
	connect := func(from, to string) {
		key := [2]string{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		def.Connections = append(def.Connections, workflow.Connection{
			From: from,
			To:   to,
			Type: workflow.ConnectionTypeDefault,
		})
	}

	for i := range dsl.Nodes {
		nd := &dsl.Nodes[i]
		node, err := buildNode(nd, vars)
		if err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, node)
		for _, group := range [][]string{nd.Next, nd.OnTrue, nd.OnFalse} {
			for _, to := range group {
				connect(nd.ID, to)
			}
		}
	}

	if eh := dsl.ErrorHandling; eh != nil {
		cfg := workflow.ErrorHandlingConfig{
			RecoveryStrategy:    workflow.RecoveryStrategy(eh.RecoveryStrategy),
			MaxRetries:          eh.MaxRetries,
			NodeFailureStrategy: workflow.NodeFailurePolicy(eh.NodeFailureStrategy),
		}
		if eh.RetryDelay != "" {
			d, err := time.ParseDuration(eh.RetryDelay)
			if err != nil {
				return nil, fmt.Errorf("error_handling.retry_delay: %w", err)
			}
			cfg.RetryDelay = d
		}
		for i := range eh.FallbackNodes {
			n, err := buildNode(&eh.FallbackNodes[i], vars)
			if err != nil {
				return nil, err
			}
			cfg.FallbackNodes = append(cfg.FallbackNodes, n)
		}
		for i := range eh.CompensationNodes {
			n, err := buildNode(&eh.CompensationNodes[i], vars)
			if err != nil {
				return nil, err
			}
			cfg.CompensationNodes = append(cfg.CompensationNodes, n)
		}
		def.ErrorHandling = cfg
	}
	return def, nil
}

func buildNode(nd *NodeDef, vars map[string]any) (*workflow.Node, error) {
	params, err := interpolateValue(nd.Parameters, vars)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nd.ID, err)
	}
	node := &workflow.Node{
		ID:                nd.ID,
		Name:              nd.Name,
		Type:              workflow.NodeType(nd.Type),
		ExecutionStrategy: workflow.ExecutionHint(nd.ExecutionStrategy),
		Condition:         interpolate(nd.Condition, vars),
	}
	if node.Name == "" {
		node.Name = nd.ID
	}
	if nd.Position != nil {
		node.Position = workflow.Position{X: nd.Position.X, Y: nd.Position.Y}
	}
	if m, ok := params.(map[string]any); ok {
		node.Parameters = m
	}
	if nd.Type == string(workflow.NodeTypeCondition) {
		if node.Parameters == nil {
			node.Parameters = make(map[string]any)
		}
		node.Parameters["expression"] = interpolate(nd.Expression, vars)
		if len(nd.OnTrue) > 0 {
			node.Parameters["on_true"] = append([]string(nil), nd.OnTrue...)
		}
		if len(nd.OnFalse) > 0 {
			node.Parameters["on_false"] = append([]string(nil), nd.OnFalse...)
		}
	}
	return node, nil
}

// interpolate 变量插值（替换 ${var_name}）
func interpolate(template string, vars map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return m
	})
}

// interpolateValue 递归插值；整串为单个占位符时保留变量的原始类型
func interpolateValue(val any, vars map[string]any) (any, error) {
	switch t := val.(type) {
	case nil:
		return nil, nil
	case string:
		if m := placeholderPattern.FindStringSubmatch(t); m != nil && m[0] == t {
			v, ok := vars[m[1]]
			if !ok {
				return nil, fmt.Errorf("variable %q has no value", m[1])
			}
			return v, nil
		}
		out := interpolate(t, vars)
		if left := placeholderPattern.FindStringSubmatch(out); left != nil {
			return nil, fmt.Errorf("variable %q has no value", left[1])
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			v, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			v, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return val, nil
	}
}

// checkExpressions 确认插值后的条件表达式可以解析
func checkExpressions(def *workflow.Definition) error {
	var errs []string
	for _, n := range def.Nodes {
		if n.Condition != "" {
			if _, err := expr.Parse(n.Condition); err != nil {
				errs = append(errs, fmt.Sprintf("node %s condition: %v", n.ID, err))
			}
		}
		if n.Type == workflow.NodeTypeCondition {
			if _, err := expr.Parse(n.StringParam("expression")); err != nil {
				errs = append(errs, fmt.Sprintf("node %s expression: %v", n.ID, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid expressions: %s", strings.Join(errs, "; "))
	}
	return nil
}

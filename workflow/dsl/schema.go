package dsl

// WorkflowDSL 工作流定义文件顶层结构
type WorkflowDSL struct {
	// Version DSL 版本，目前只有 "1"
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Strategy 编排策略：sequential / parallel / conditional / hybrid
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// Variables 变量定义，可在字符串中以 ${name} 引用
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// ErrorHandling 失败处理与恢复配置
	ErrorHandling *ErrorHandlingDef `yaml:"error_handling,omitempty" json:"error_handling,omitempty"`

	// Nodes 节点定义
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`

	// Metadata 元数据（不参与执行）
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"`                                   // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`       // 无默认值时必须由调用方提供
}

// NodeDef 节点定义
type NodeDef struct {
	ID                string         `yaml:"id" json:"id"`
	Name              string         `yaml:"name,omitempty" json:"name,omitempty"`
	Type              string         `yaml:"type" json:"type"`
	Parameters        map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	ExecutionStrategy string         `yaml:"execution_strategy,omitempty" json:"execution_strategy,omitempty"`
	// Condition 由 conditional 策略在执行前求值
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	// Expression/OnTrue/OnFalse 仅用于 condition 类型节点
	Expression string   `yaml:"expression,omitempty" json:"expression,omitempty"`
	OnTrue     []string `yaml:"on_true,omitempty" json:"on_true,omitempty"`
	OnFalse    []string `yaml:"on_false,omitempty" json:"on_false,omitempty"`
	Next       []string `yaml:"next,omitempty" json:"next,omitempty"`
	Position   *struct {
		X float64 `yaml:"x" json:"x"`
		Y float64 `yaml:"y" json:"y"`
	} `yaml:"position,omitempty" json:"position,omitempty"`
}

// ErrorHandlingDef 错误处理定义
type ErrorHandlingDef struct {
	RecoveryStrategy    string    `yaml:"recovery_strategy,omitempty" json:"recovery_strategy,omitempty"` // retry, fallback, compensate, skip
	MaxRetries          *int      `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay          string    `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"` // time.ParseDuration 格式
	NodeFailureStrategy string    `yaml:"node_failure_strategy,omitempty" json:"node_failure_strategy,omitempty"`
	FallbackNodes       []NodeDef `yaml:"fallback_nodes,omitempty" json:"fallback_nodes,omitempty"`
	CompensationNodes   []NodeDef `yaml:"compensation_nodes,omitempty" json:"compensation_nodes,omitempty"`
}

package nodes

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/tlsutil"
	"github.com/BaSui01/mailflow/workflow"
	"github.com/BaSui01/mailflow/workflow/expr"
)

// DefaultHTTPTimeout bounds webhook and notification requests.
const DefaultHTTPTimeout = 10 * time.Second

// Options configures the built-in handlers.
type Options struct {
	// HTTPClient overrides the hardened default client.
	HTTPClient *http.Client
	// HTTPTimeout is used when HTTPClient is nil.
	HTTPTimeout time.Duration
	Logger      *zap.Logger
}

// Register installs the email node handlers into reg, replacing any
// handler already registered for those types.
func Register(reg *workflow.HandlerRegistry, opts Options) error {
	if reg == nil {
		return fmt.Errorf("handler registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		opts.HTTPClient = tlsutil.HTTPClient(timeout)
	}

	logger := opts.Logger.With(zap.String("component", "nodes"))
	hook := &webhookHandler{client: opts.HTTPClient}
	handlers := map[workflow.NodeType]workflow.NodeHandler{
		workflow.NodeTypeEmailParser:   workflow.NodeHandlerFunc(parseEmail),
		workflow.NodeTypeClassifier:    workflow.NodeHandlerFunc(classify),
		workflow.NodeTypeDataTransform: workflow.NodeHandlerFunc(transform),
		workflow.NodeTypeNotification:  &notificationHandler{webhook: hook, logger: logger},
		workflow.NodeTypeWebhook:       hook,
	}
	for t, h := range handlers {
		if err := reg.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// source returns the map a handler reads from: the result of
// parameters.source when set, the run input otherwise.
func source(node *workflow.Node, ec *workflow.ExecutionContext) (map[string]any, error) {
	from := node.StringParam("source")
	if from == "" {
		return ec.Input, nil
	}
	v, ok := ec.Result(from)
	if !ok {
		return nil, fmt.Errorf("source node %q has no result", from)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("result of source node %q is %T, not an object", from, v)
	}
	return m, nil
}

// resolve looks up a dotted path in the execution's expression variables.
func resolve(ec *workflow.ExecutionContext, path string) (any, bool) {
	v, err := expr.Field(path).Eval(workflow.ExpressionVars(ec))
	if err != nil {
		return nil, false
	}
	return v, true
}

func stringOf(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package nodes

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/workflow"
)

// transform builds an object from parameters.mapping ({key: "dotted.path"})
// resolved against input and results, plus the constants in parameters.set.
// Unresolvable paths map to nil.
func transform(_ context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (workflow.NodeOutput, error) {
	mapping, _ := node.Parameters["mapping"].(map[string]any)
	constants, _ := node.Parameters["set"].(map[string]any)
	if len(mapping) == 0 && len(constants) == 0 {
		return workflow.NodeOutput{}, fmt.Errorf("data_transform node %q has neither mapping nor set", node.ID)
	}

	out := make(map[string]any, len(mapping)+len(constants))
	for key, p := range mapping {
		path, ok := p.(string)
		if !ok {
			return workflow.NodeOutput{}, fmt.Errorf("data_transform node %q: mapping %q is %T, not a path", node.ID, key, p)
		}
		out[key], _ = resolve(ec, path)
	}
	for key, v := range constants {
		out[key] = v
	}
	return workflow.NodeOutput{Data: out}, nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// render replaces {{path}} placeholders; missing values render empty.
func render(tmpl string, ec *workflow.ExecutionContext) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := resolve(ec, path)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

type notificationHandler struct {
	webhook *webhookHandler
	logger  *zap.Logger
}

// Handle renders parameters.template and delivers it on parameters.channel
// ("log" or "webhook").
func (h *notificationHandler) Handle(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (workflow.NodeOutput, error) {
	tmpl := node.StringParam("template")
	if tmpl == "" {
		return workflow.NodeOutput{}, fmt.Errorf("notification node %q has no template", node.ID)
	}
	message := render(tmpl, ec)
	recipient := render(node.StringParam("recipient"), ec)

	channel := node.StringParam("channel")
	switch channel {
	case "", "log":
		channel = "log"
		h.logger.Info("notification",
			zap.String("node_id", node.ID),
			zap.String("workflow_id", ec.WorkflowID),
			zap.String("recipient", recipient),
			zap.String("message", message))
	case "webhook":
		url := node.StringParam("url")
		if url == "" {
			return workflow.NodeOutput{}, fmt.Errorf("notification node %q: webhook channel needs a url", node.ID)
		}
		payload := map[string]any{"text": message}
		if recipient != "" {
			payload["recipient"] = recipient
		}
		if _, _, err := h.webhook.send(ctx, "POST", url, nil, payload); err != nil {
			return workflow.NodeOutput{}, fmt.Errorf("notification node %q: %w", node.ID, err)
		}
	default:
		return workflow.NodeOutput{}, fmt.Errorf("notification node %q: unknown channel %q", node.ID, channel)
	}

	return workflow.NodeOutput{Data: map[string]any{
		"channel":   channel,
		"recipient": recipient,
		"message":   message,
		"delivered": true,
	}}, nil
}

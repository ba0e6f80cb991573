package nodes

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/mailflow/workflow"
)

// maxBodyBytes caps how much of a message body is kept.
const maxBodyBytes = 1 << 20

var wordDecoder = new(mime.WordDecoder)

// parseEmail reads the raw message from parameters.field (default "raw").
// Input that is already structured passes through with normalized keys.
func parseEmail(_ context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (workflow.NodeOutput, error) {
	src, err := source(node, ec)
	if err != nil {
		return workflow.NodeOutput{}, fmt.Errorf("email_parser node %q: %w", node.ID, err)
	}
	field := node.StringParam("field")
	if field == "" {
		field = "raw"
	}

	raw := stringOf(src, field)
	if raw == "" {
		if stringOf(src, "subject") == "" && stringOf(src, "body") == "" {
			return workflow.NodeOutput{}, fmt.Errorf("email_parser node %q: no message in %q", node.ID, field)
		}
		return workflow.NodeOutput{Data: map[string]any{
			"from":    stringOf(src, "from"),
			"to":      toStrings(src["to"]),
			"subject": stringOf(src, "subject"),
			"body":    stringOf(src, "body"),
		}}, nil
	}

	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return workflow.NodeOutput{}, fmt.Errorf("email_parser node %q: %w", node.ID, err)
	}
	body, err := io.ReadAll(io.LimitReader(msg.Body, maxBodyBytes))
	if err != nil {
		return workflow.NodeOutput{}, fmt.Errorf("email_parser node %q: read body: %w", node.ID, err)
	}

	out := map[string]any{
		"from":       firstAddress(msg.Header.Get("From")),
		"to":         addresses(msg.Header.Get("To")),
		"cc":         addresses(msg.Header.Get("Cc")),
		"subject":    decodeHeader(msg.Header.Get("Subject")),
		"message_id": strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		"body":       strings.TrimSpace(string(body)),
	}
	if date, err := msg.Header.Date(); err == nil {
		out["date"] = date.UTC().Format(time.RFC3339)
	}
	return workflow.NodeOutput{Data: out}, nil
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// addresses returns bare addresses; unparsable lists are kept verbatim.
func addresses(v string) []string {
	if v == "" {
		return []string{}
	}
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{v}
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Address
	}
	return out
}

func firstAddress(v string) string {
	if list := addresses(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

// classify scores parameters.rules ({label: [keywords]}) against the
// subject and body and picks the label with the most keyword hits. Ties go
// to the label that sorts first.
func classify(_ context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (workflow.NodeOutput, error) {
	src, err := source(node, ec)
	if err != nil {
		return workflow.NodeOutput{}, fmt.Errorf("classifier node %q: %w", node.ID, err)
	}
	rules, ok := node.Parameters["rules"].(map[string]any)
	if !ok || len(rules) == 0 {
		return workflow.NodeOutput{}, fmt.Errorf("classifier node %q has no rules", node.ID)
	}

	text := strings.ToLower(stringOf(src, "subject") + "\n" + stringOf(src, "body"))

	labels := make([]string, 0, len(rules))
	for label := range rules {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestMatched := "", []string(nil)
	for _, label := range labels {
		var matched []string
		for _, kw := range toStrings(rules[label]) {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > len(bestMatched) {
			best, bestMatched = label, matched
		}
	}

	if best == "" {
		best = node.StringParam("default_label")
		if best == "" {
			best = "other"
		}
	}
	if bestMatched == nil {
		bestMatched = []string{}
	}
	return workflow.NodeOutput{Data: map[string]any{
		"label":   best,
		"matched": bestMatched,
		"score":   len(bestMatched),
	}}, nil
}

package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/mailflow/workflow"
)

// maxResponseBytes caps how much of a webhook response is read.
const maxResponseBytes = 1 << 20

type webhookHandler struct {
	client *http.Client
}

// Handle sends parameters.body (or the run input) as JSON to parameters.url.
func (h *webhookHandler) Handle(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (workflow.NodeOutput, error) {
	url := node.StringParam("url")
	if url == "" {
		return workflow.NodeOutput{}, fmt.Errorf("webhook node %q has no url", node.ID)
	}
	method := strings.ToUpper(node.StringParam("method"))
	if method == "" {
		method = http.MethodPost
	}

	var payload any = ec.Input
	if body, ok := node.Param("body"); ok {
		payload = body
	}
	headers := map[string]string{}
	if hs, ok := node.Parameters["headers"].(map[string]any); ok {
		for k, v := range hs {
			headers[k] = fmt.Sprint(v)
		}
	}

	status, decoded, err := h.send(ctx, method, url, headers, payload)
	if err != nil {
		return workflow.NodeOutput{}, fmt.Errorf("webhook node %q: %w", node.ID, err)
	}
	out := map[string]any{"status": status}
	if decoded != nil {
		out["body"] = decoded
	}
	return workflow.NodeOutput{Data: out}, nil
}

// send performs the request. A JSON response body is decoded; anything
// else is dropped. Non-2xx statuses are errors.
func (h *webhookHandler) send(ctx context.Context, method, url string, headers map[string]string, payload any) (int, any, error) {
	var body io.Reader
	if method != http.MethodGet && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "mailflow-webhook")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode)
	}

	var decoded any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, decoded, nil
}

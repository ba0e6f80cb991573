package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/mailflow/types"
)

// Validate checks a definition and collects every problem it finds.
// It returns a VALIDATION_ERROR (or CYCLE_DETECTED when the only issue is a
// loop) carrying one detail per failed check.
func Validate(def *Definition) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(def.Name) == "" {
		add("workflow name is required")
	}
	if len(def.Nodes) == 0 {
		add("workflow must contain at least one node")
	}

	// Graph checks below need every node to carry an id.
	malformed := false
	ids := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		if n == nil {
			add("node[%d] is nil", i)
			malformed = true
			continue
		}
		if n.ID == "" {
			add("node[%d] has an empty id", i)
			malformed = true
			continue
		}
		if ids[n.ID] {
			add("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if n.Type == "" {
			add("node %q has an empty type", n.ID)
		}
		if !knownHint(n.ExecutionStrategy) {
			add("node %q has unknown execution strategy %q", n.ID, n.ExecutionStrategy)
		}
	}

	danglingEdges := false
	for _, c := range def.Connections {
		if !ids[c.From] {
			add("connection %s -> %s references unknown source node", c.From, c.To)
			danglingEdges = true
		}
		if !ids[c.To] {
			add("connection %s -> %s references unknown target node", c.From, c.To)
			danglingEdges = true
		}
	}

	if !knownStrategy(def.Strategy) {
		add("unknown orchestration strategy %q", def.Strategy)
	}
	eh := def.ErrorHandling
	if !knownRecovery(eh.RecoveryStrategy) {
		add("unknown recovery strategy %q", eh.RecoveryStrategy)
	}
	if !knownFailurePolicy(eh.NodeFailureStrategy) {
		add("unknown node failure strategy %q", eh.NodeFailureStrategy)
	}
	if eh.MaxRetries != nil && *eh.MaxRetries < 0 {
		add("max_retries must be >= 0, got %d", *eh.MaxRetries)
	}
	if eh.RetryDelay < 0 {
		add("retry_delay must be >= 0, got %s", eh.RetryDelay)
	}
	for _, set := range []struct {
		name  string
		nodes []*Node
	}{
		{"fallback_nodes", eh.FallbackNodes},
		{"compensation_nodes", eh.CompensationNodes},
	} {
		for i, n := range set.nodes {
			switch {
			case n == nil:
				add("%s[%d] is nil", set.name, i)
			case n.ID == "":
				add("%s[%d] has an empty id", set.name, i)
			case n.Type == "":
				add("%s node %q has an empty type", set.name, n.ID)
			}
		}
	}

	var cycle []string
	if len(def.Nodes) > 0 && !danglingEdges && !malformed {
		wf := &Workflow{Definition: *def}
		if len(FindStartingNodes(wf)) == 0 {
			add("workflow has no starting node")
		}
		if path, ok := DetectCycle(wf); ok {
			cycle = path
			add("cycle detected: %s", strings.Join(path, " -> "))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	if cycle != nil && len(issues) == 1 {
		return types.NewError(types.ErrCycleDetected, "workflow graph contains a cycle").
			WithDetails(issues...).
			WithCause(ErrCycleDetected)
	}
	return types.NewValidationError("invalid workflow definition", issues...)
}

// validateWorkflow adds owner checks on top of Validate.
func validateWorkflow(wf *Workflow) error {
	err := Validate(&wf.Definition)
	if wf.OwnerID != "" {
		return err
	}
	if err == nil {
		return types.NewValidationError("invalid workflow definition", "owner id is required")
	}
	if e, ok := types.AsError(err); ok {
		e.Details = append([]string{"owner id is required"}, e.Details...)
		e.Code = types.ErrValidation
	}
	return err
}

func knownHint(h ExecutionHint) bool {
	switch h {
	case HintNone, HintSequential, HintParallel:
		return true
	}
	return false
}

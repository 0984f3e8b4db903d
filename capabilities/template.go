package capabilities

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/workflow"
)

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
	"default": func(def, v any) any {
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok && s == "" {
			return def
		}
		return v
	},
	"json": func(v any) (string, error) {
		data, err := xjson.Marshal(v)
		return string(data), err
	},
}

// textTemplate renders the template param against the node inputs and
// writes the result to the slot named by the output param.
type textTemplate struct {
	node     workflow.NodeDefinition
	tmpl     *template.Template
	parseErr error
}

func newTextTemplate(node workflow.NodeDefinition) (workflow.NodeCapability, error) {
	t := &textTemplate{node: node}
	src, ok := node.Params.String("template")
	if !ok {
		t.parseErr = &workflow.ParamError{Param: "template", Reason: "a template string is required"}
		return t, nil
	}
	// 缺失的键直接报错，避免渲染出 "<no value>"
	t.tmpl, t.parseErr = template.New(node.ID).
		Funcs(templateFuncs).
		Option("missingkey=error").
		Parse(src)
	if t.parseErr != nil {
		t.parseErr = &workflow.ParamError{Param: "template", Reason: t.parseErr.Error()}
	}
	return t, nil
}

func (t *textTemplate) Execute(_ context.Context, inputs map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if t.parseErr != nil {
		return nil, resilience.Terminal(t.parseErr)
	}
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, inputs); err != nil {
		return nil, resilience.Terminal(fmt.Errorf("render template: %w", err))
	}
	slot := t.node.Params.StringOr("output", "text")
	return workflow.Succeeded(map[string]any{slot: sb.String()}, 0), nil
}

func (t *textTemplate) EstimateCost(map[string]any) float64 { return 0 }

func (t *textTemplate) ValidateStaticConfig() []error {
	if t.parseErr != nil {
		return []error{t.parseErr}
	}
	return nil
}

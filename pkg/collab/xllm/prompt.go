package xllm

import (
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

// 漏斗步骤
const (
	StepLanding  = "landing"
	StepOptIn    = "opt-in"
	StepSales    = "sales"
	StepUpsell   = "upsell"
	StepThankYou = "thank-you"
)

var validSteps = []string{StepLanding, StepOptIn, StepSales, StepUpsell, StepThankYou}

const funnelSystemPrompt = "You are a conversion copywriter. Write clear, honest marketing copy. " +
	"Return only the copy, without commentary."

var funnelPrompt = template.Must(template.New("funnel").Parse(`Write the {{.Step}} page copy for a sales funnel.
Product: {{.Product}}
{{- if .Audience}}
Audience: {{.Audience}}
{{- end}}
{{- if .Tone}}
Tone: {{.Tone}}
{{- end}}
{{- if .Language}}
Respond in {{.Language}}.
{{- end}}
{{- if .Notes}}
Notes:
{{- range .Notes}}
- {{.}}
{{- end}}
{{- end}}
`))

// Brief 漏斗文案需求
type Brief struct {
	Product  string
	Step     string
	Audience string
	Tone     string
	Language string
	Notes    []string
	// User 配额键
	User string
}

// Validate 检查必填字段与步骤名
func (b Brief) Validate() error {
	var problems []string
	if strings.TrimSpace(b.Product) == "" {
		problems = append(problems, "product is required")
	}
	if !slices.Contains(validSteps, b.Step) {
		problems = append(problems, fmt.Sprintf("step must be one of %s", strings.Join(validSteps, ", ")))
	}
	if len(problems) == 0 {
		return nil
	}
	msg := strings.Join(problems, "; ")
	return &xfault.Error{
		Kind: xfault.KindValidation, Code: xfault.CodeInvalidInput,
		Message: msg, Err: fmt.Errorf("%w: %s", ErrInvalidBrief, msg),
	}
}

// Render 校验并渲染提示词
func (b Brief) Render() (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := funnelPrompt.Execute(&sb, b); err != nil {
		return "", fmt.Errorf("xllm: render prompt: %w", err)
	}
	return sb.String(), nil
}

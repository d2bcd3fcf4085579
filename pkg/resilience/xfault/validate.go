package xfault

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Rule 单个字段的校验规则，返回 nil 表示通过
type Rule func(value any) error

// Validate 按规则校验输入，收集全部违规项。
//
// 字段按名称排序后依次校验，违规描述以 "; " 连接后记录为 Validation 故障
// （随后按 validationTTL 自动清除）。全部通过时返回 true，且不改变现有记录。
func (g *Guard) Validate(ctx context.Context, input map[string]any, rules map[string]Rule) bool {
	fields := make([]string, 0, len(rules))
	for field := range rules {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	var violations []string
	for _, field := range fields {
		rule := rules[field]
		if rule == nil {
			continue
		}
		if err := rule(input[field]); err != nil {
			violations = append(violations, err.Error())
		}
	}
	if len(violations) == 0 {
		return true
	}

	g.RecordFailure(ctx, &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidInput,
		Message: strings.Join(violations, "; "),
		Err:     ErrValidation,
	}, WithKind(KindValidation))
	return false
}

// Required 值必须存在且非空（空白字符串、空切片、空 map 视为缺失）
func Required(label string) Rule {
	return func(v any) error {
		if isBlank(v) {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

// MinLength 文本长度（按字符计）不少于 n。空值交给 Required 处理。
func MinLength(label string, n int) Rule {
	return func(v any) error {
		if v == nil {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be text", label)
		}
		if utf8.RuneCountInString(s) < n {
			return fmt.Errorf("%s must be at least %d characters", label, n)
		}
		return nil
	}
}

// MaxLength 文本长度（按字符计）不超过 n
func MaxLength(label string, n int) Rule {
	return func(v any) error {
		if v == nil {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be text", label)
		}
		if utf8.RuneCountInString(s) > n {
			return fmt.Errorf("%s must be at most %d characters", label, n)
		}
		return nil
	}
}

// OneOf 值必须是给定选项之一
func OneOf(label string, options ...string) Rule {
	return func(v any) error {
		if v == nil {
			return nil
		}
		s, ok := v.(string)
		if !ok || !slices.Contains(options, s) {
			return fmt.Errorf("%s must be one of %s", label, strings.Join(options, ", "))
		}
		return nil
	}
}

// All 依次应用多条规则，返回第一个违规项
func All(rules ...Rule) Rule {
	return func(v any) error {
		for _, r := range rules {
			if r == nil {
				continue
			}
			if err := r(v); err != nil {
				return err
			}
		}
		return nil
	}
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

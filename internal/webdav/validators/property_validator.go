package validators

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/davgate/davcore/internal/types"
)

// DefaultMaxValueLength 属性值默认上限 10KB
const DefaultMaxValueLength = 10240

const (
	OperationSet    = "set"
	OperationRemove = "remove"
)

// ValidationError 属性校验错误，Status为对应的响应码
type ValidationError struct {
	Status  int
	Message string
	Name    xml.Name
}

func (e *ValidationError) Error() string {
	return e.Message + ": " + e.Name.Local
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(operation string, prop types.Property) error
	GetRuleName() string
}

// StringLengthRule 字符串长度验证规则
type StringLengthRule struct {
	MaxLength int
	RuleName  string
}

func (r *StringLengthRule) Validate(operation string, prop types.Property) error {
	if operation == OperationSet && len(prop.InnerXML) > r.MaxLength {
		return &ValidationError{
			Status:  http.StatusInsufficientStorage,
			Message: "property value too large",
			Name:    prop.XMLName,
		}
	}
	return nil
}

func (r *StringLengthRule) GetRuleName() string {
	return r.RuleName
}

// RequiredFieldRule 必填字段验证规则
type RequiredFieldRule struct {
	RuleName string
}

func (r *RequiredFieldRule) Validate(_ string, prop types.Property) error {
	if strings.TrimSpace(prop.XMLName.Local) == "" {
		return &ValidationError{
			Status:  http.StatusBadRequest,
			Message: "property name required",
			Name:    prop.XMLName,
		}
	}
	return nil
}

func (r *RequiredFieldRule) GetRuleName() string {
	return r.RuleName
}

// ProtectedPropertyRule 禁止修改受保护的活属性
type ProtectedPropertyRule struct {
	IsProtected func(xml.Name) bool
	RuleName    string
}

func (r *ProtectedPropertyRule) Validate(_ string, prop types.Property) error {
	if r.IsProtected != nil && r.IsProtected(prop.XMLName) {
		return &ValidationError{
			Status:  http.StatusForbidden,
			Message: "cannot modify protected property",
			Name:    prop.XMLName,
		}
	}
	return nil
}

func (r *ProtectedPropertyRule) GetRuleName() string {
	return r.RuleName
}

// CompositeValidator 复合验证器，按顺序执行规则
type CompositeValidator struct {
	rules []ValidationRule
}

func NewCompositeValidator(rules ...ValidationRule) *CompositeValidator {
	return &CompositeValidator{rules: rules}
}

func (cv *CompositeValidator) AddRule(rule ValidationRule) {
	cv.rules = append(cv.rules, rule)
}

func (cv *CompositeValidator) Validate(operation string, prop types.Property) error {
	for _, rule := range cv.rules {
		if err := rule.Validate(operation, prop); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultValidator 创建默认验证器实例
func NewDefaultValidator(isProtected func(xml.Name) bool) *CompositeValidator {
	return NewCompositeValidator(
		&RequiredFieldRule{RuleName: "required"},
		&ProtectedPropertyRule{IsProtected: isProtected, RuleName: "protected"},
		&StringLengthRule{MaxLength: DefaultMaxValueLength, RuleName: "length"},
	)
}

package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/davgate/davcore/internal/types"
)

// Serializer XML序列化器，输出确定的缩进格式
type Serializer struct {
	encoderOptions encoderOptions
}

// encoderOptions 编码选项
type encoderOptions struct {
	Indent string
	Prefix string
}

// NewSerializer 创建新的XML序列化器
func NewSerializer() *Serializer {
	return &Serializer{
		encoderOptions: encoderOptions{
			Indent: "  ",
		},
	}
}

// WithIndent 设置缩进
func (s *Serializer) WithIndent(prefix string, indent string) *Serializer {
	s.encoderOptions.Prefix = prefix
	s.encoderOptions.Indent = indent
	return s
}

// PropGroup 同一状态码下的属性分组
type PropGroup struct {
	Status int
	Props  []types.Property
}

// Entry 一个资源的响应条目。Status非零时表示整体失败，忽略Groups。
type Entry struct {
	Href   string
	Groups []PropGroup
	Status int
	Error  *types.ErrorCondition
}

// StatusLine 生成 "HTTP/1.1 <code> <reason>"
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// Multistatus 编码207响应体。条目顺序与输入一致，空分组不输出。
func (s *Serializer) Multistatus(entries []Entry) ([]byte, error) {
	ms := types.Multistatus{
		Xmlns:     types.NamespaceDAV,
		Responses: make([]types.Response, 0, len(entries)),
	}
	for _, e := range entries {
		resp := types.Response{Href: e.Href, Error: e.Error}
		if e.Status != 0 {
			resp.Status = StatusLine(e.Status)
		} else {
			for _, g := range e.Groups {
				if len(g.Props) == 0 {
					continue
				}
				resp.Propstats = append(resp.Propstats, types.Propstat{
					Props:  g.Props,
					Status: StatusLine(g.Status),
				})
			}
		}
		ms.Responses = append(ms.Responses, resp)
	}
	return s.encode(ms)
}

// ErrorBody 编码顶层<D:error>
func (s *Serializer) ErrorBody(cond types.ErrorCondition) ([]byte, error) {
	cond.Xmlns = types.NamespaceDAV
	return s.encode(cond)
}

// LockDiscovery 编码LOCK响应的<D:prop><D:lockdiscovery>
func (s *Serializer) LockDiscovery(locks []types.ActiveLock) ([]byte, error) {
	return s.encode(types.LockDiscoveryProp{
		Xmlns:       types.NamespaceDAV,
		ActiveLocks: locks,
	})
}

// Fragment 编码不带XML声明的片段，用于属性值
func (s *Serializer) Fragment(v any) (string, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode fragment: %w", err)
	}
	return string(data), nil
}

func (s *Serializer) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	encoder := xml.NewEncoder(&buf)
	encoder.Indent(s.encoderOptions.Prefix, s.encoderOptions.Indent)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return buf.Bytes(), nil
}

// TextProperty 创建文本值的DAV属性，值会被转义
func TextProperty(local, value string) types.Property {
	var b strings.Builder
	xml.EscapeText(&b, []byte(value))
	return types.Property{XMLName: types.DAVName(local), InnerXML: b.String()}
}

// RawProperty 创建内容为原始XML的DAV属性
func RawProperty(local, inner string) types.Property {
	return types.Property{XMLName: types.DAVName(local), InnerXML: inner}
}

// NameOnly 去掉值，用于propname
func NameOnly(p types.Property) types.Property {
	return types.Property{XMLName: p.XMLName}
}

package xml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/davgate/davcore/internal/types"
)

// DefaultMaxContentLength 请求体默认上限 1MB
const DefaultMaxContentLength = 1 << 20

var (
	ErrMalformed = errors.New("malformed xml body")
	ErrTooLarge  = errors.New("xml body too large")
)

// Parser 请求体解析器
type Parser struct {
	maxContentLength int64
}

// NewParser 创建新的XML解析器
func NewParser() *Parser {
	return &Parser{maxContentLength: DefaultMaxContentLength}
}

// WithMaxContentLength 设置最大内容长度
func (p *Parser) WithMaxContentLength(length int64) *Parser {
	p.maxContentLength = length
	return p
}

// ReadBody 读取请求体，超过上限返回ErrTooLarge。nil读取器视为空。
func (p *Parser) ReadBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, p.maxContentLength+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > p.maxContentLength {
		return nil, ErrTooLarge
	}
	return body, nil
}

// ParsePropfind 解析PROPFIND请求体。空请求体返回nil，表示allprop。
func (p *Parser) ParsePropfind(r io.Reader) (*types.PropfindRequest, error) {
	body, err := p.ReadBody(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var req types.PropfindRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := 0
	for _, set := range []bool{req.AllProp != nil, req.PropName != nil, req.Prop != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: propfind needs exactly one of allprop, propname, prop", ErrMalformed)
	}
	if req.Prop != nil && len(req.Prop.Props) == 0 {
		return nil, fmt.Errorf("%w: empty prop", ErrMalformed)
	}
	return &req, nil
}

// ParsePropertyUpdate 解析PROPPATCH请求体
func (p *Parser) ParsePropertyUpdate(r io.Reader) (*types.PropertyUpdateRequest, error) {
	body, err := p.ReadBody(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty propertyupdate", ErrMalformed)
	}

	var req types.PropertyUpdateRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(req.Operations) == 0 {
		return nil, fmt.Errorf("%w: propertyupdate without set or remove", ErrMalformed)
	}
	for _, op := range req.Operations {
		if op.XMLName.Space != types.NamespaceDAV || (op.XMLName.Local != "set" && op.XMLName.Local != "remove") {
			return nil, fmt.Errorf("%w: unexpected element %s", ErrMalformed, op.XMLName.Local)
		}
		for _, prop := range op.Prop.Props {
			if prop.XMLName.Local == "" {
				return nil, fmt.Errorf("%w: property without name", ErrMalformed)
			}
		}
	}
	return &req, nil
}

// ParseLockInfo 解析LOCK请求体。空请求体返回nil，表示刷新。
func (p *Parser) ParseLockInfo(r io.Reader) (*types.LockInfoRequest, error) {
	body, err := p.ReadBody(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var req types.LockInfoRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if (req.Exclusive == nil) == (req.Shared == nil) {
		return nil, fmt.Errorf("%w: lockscope must be exclusive or shared", ErrMalformed)
	}
	if req.Write == nil {
		return nil, fmt.Errorf("%w: only write locks are supported", ErrMalformed)
	}
	return &req, nil
}

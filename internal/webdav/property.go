package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
	davxml "github.com/davgate/davcore/internal/webdav/xml"
)

// creationdate 使用ISO-8601 UTC格式
const creationDateFormat = "2006-01-02T15:04:05Z"

// liveProperty 活属性表项
type liveProperty struct {
	name    string
	resolve func(ctx context.Context, r resource.Resource) string
}

// PropertyCatalog 固定顺序的活属性表。allprop按表中顺序输出。
type PropertyCatalog struct {
	entries     []liveProperty
	defaultTime time.Time
}

// NewPropertyCatalog 创建属性表，defaultTime用于缺失的时间戳，零值表示Unix纪元
func NewPropertyCatalog(defaultTime time.Time) *PropertyCatalog {
	if defaultTime.IsZero() {
		defaultTime = time.Unix(0, 0)
	}
	c := &PropertyCatalog{defaultTime: defaultTime.UTC()}
	c.entries = []liveProperty{
		{name: "getcontentlength", resolve: func(ctx context.Context, r resource.Resource) string {
			return strconv.FormatInt(r.Size(ctx), 10)
		}},
		{name: "creationdate", resolve: func(ctx context.Context, r resource.Resource) string {
			created, _ := r.Timestamps(ctx)
			return c.timeOrDefault(created).Format(creationDateFormat)
		}},
		{name: "getlastmodified", resolve: func(ctx context.Context, r resource.Resource) string {
			_, modified := r.Timestamps(ctx)
			return c.timeOrDefault(modified).Format(http.TimeFormat)
		}},
		{name: "resourcetype", resolve: func(ctx context.Context, r resource.Resource) string {
			if r.IsDir(ctx) {
				return "<D:collection/>"
			}
			return ""
		}},
		{name: "displayname", resolve: func(ctx context.Context, r resource.Resource) string {
			return escapeText(r.Name())
		}},
	}
	return c
}

func (c *PropertyCatalog) timeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return c.defaultTime
	}
	return t.UTC()
}

// Names 返回表中属性名，按输出顺序
func (c *PropertyCatalog) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// All 按表顺序解析所有活属性
func (c *PropertyCatalog) All(ctx context.Context, r resource.Resource) []types.Property {
	props := make([]types.Property, 0, len(c.entries))
	for _, e := range c.entries {
		props = append(props, davxml.RawProperty(e.name, e.resolve(ctx, r)))
	}
	return props
}

// Resolve 解析单个DAV:属性
func (c *PropertyCatalog) Resolve(ctx context.Context, r resource.Resource, local string) (types.Property, bool) {
	for _, e := range c.entries {
		if e.name == local {
			return davxml.RawProperty(e.name, e.resolve(ctx, r)), true
		}
	}
	return types.Property{}, false
}

// ETag 由修改时间和大小生成的强ETag
func ETag(ctx context.Context, r resource.Resource) string {
	_, modified := r.Timestamps(ctx)
	return fmt.Sprintf(`"%x-%x"`, modified.UnixNano(), r.Size(ctx))
}

// protectedProperties PROPPATCH不能修改的DAV:属性
var protectedProperties = map[string]bool{
	"creationdate":       true,
	"getcontentlength":   true,
	"getcontenttype":     true,
	"getetag":            true,
	"getlastmodified":    true,
	"lockdiscovery":      true,
	"resourcetype":       true,
	"supportedlock":      true,
	"displayname":        true,
	"getcontentlanguage": true,
}

// IsProtected 判断属性是否为受保护的活属性
func IsProtected(name xml.Name) bool {
	return name.Space == types.NamespaceDAV && protectedProperties[name.Local]
}

func escapeText(s string) string {
	return davxml.TextProperty("", s).InnerXML
}

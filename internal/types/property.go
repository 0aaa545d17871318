package types

import (
	"encoding/xml"
)

// ========================================
// Namespace Constants - 命名空间常量
// ========================================

const (
	// NamespaceDAV DAV命名空间
	NamespaceDAV = "DAV:"

	// PrefixDAV 响应中使用的DAV前缀
	PrefixDAV = "D"
)

// DAVName 返回带D前缀的元素名，用于序列化
func DAVName(local string) xml.Name {
	return xml.Name{Local: PrefixDAV + ":" + local}
}

// ========================================
// Property Types - 属性类型
// ========================================

// Property 单个属性元素。序列化时XMLName决定元素名，InnerXML原样输出。
type Property struct {
	XMLName  xml.Name
	InnerXML string `xml:",innerxml"`
}

// PropList 请求中<prop>的子元素列表
type PropList struct {
	Props []Property `xml:",any"`
}

// ========================================
// Multistatus Types - 多状态响应类型
// ========================================

// Multistatus 207响应根元素
type Multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	Xmlns     string     `xml:"xmlns:D,attr"`
	Responses []Response `xml:"D:response"`
}

// Response 单个资源的响应
type Response struct {
	Href      string          `xml:"D:href"`
	Propstats []Propstat      `xml:"D:propstat,omitempty"`
	Status    string          `xml:"D:status,omitempty"`
	Error     *ErrorCondition `xml:"D:error,omitempty"`
}

// Propstat 属性状态分组
type Propstat struct {
	Props  []Property `xml:"D:prop>_ignored_"`
	Status string     `xml:"D:status"`
}

// ========================================
// Request Types - 请求体类型
// ========================================

// PropfindRequest PROPFIND请求体
type PropfindRequest struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Prop     *PropList `xml:"DAV: prop"`
	Include  *PropList `xml:"DAV: include"`
}

// PropertyUpdateRequest PROPPATCH请求体，按文档顺序保留set/remove
type PropertyUpdateRequest struct {
	XMLName    xml.Name      `xml:"DAV: propertyupdate"`
	Operations []PatchAction `xml:",any"`
}

// PatchAction 单个set或remove指令
type PatchAction struct {
	XMLName xml.Name
	Prop    PropList `xml:"DAV: prop"`
}

// LockInfoRequest LOCK请求体结构
type LockInfoRequest struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"DAV: lockscope>exclusive"`
	Shared    *struct{} `xml:"DAV: lockscope>shared"`
	Write     *struct{} `xml:"DAV: locktype>write"`
	Owner     *Owner    `xml:"DAV: owner"`
}

// Owner 锁定所有者信息，原样保存
type Owner struct {
	InnerXML string `xml:",innerxml"`
}

// ========================================
// Lock Types - 锁相关类型
// ========================================

// LockScopeInfo 锁作用域信息（XML格式）
type LockScopeInfo struct {
	Exclusive *struct{} `xml:"D:exclusive,omitempty"`
	Shared    *struct{} `xml:"D:shared,omitempty"`
}

// LockTypeInfo 锁类型信息（XML格式）
type LockTypeInfo struct {
	Write *struct{} `xml:"D:write,omitempty"`
}

// Href 包装单个href
type Href struct {
	Href string `xml:"D:href"`
}

// ActiveLock 活跃锁
type ActiveLock struct {
	XMLName   xml.Name      `xml:"D:activelock"`
	LockScope LockScopeInfo `xml:"D:lockscope"`
	LockType  LockTypeInfo  `xml:"D:locktype"`
	Depth     string        `xml:"D:depth"`
	Owner     *Owner        `xml:"D:owner,omitempty"`
	Timeout   string        `xml:"D:timeout"`
	LockToken *Href         `xml:"D:locktoken,omitempty"`
	LockRoot  Href          `xml:"D:lockroot"`
}

// LockEntry supportedlock中的一项
type LockEntry struct {
	XMLName   xml.Name      `xml:"D:lockentry"`
	LockScope LockScopeInfo `xml:"D:lockscope"`
	LockType  LockTypeInfo  `xml:"D:locktype"`
}

// LockDiscoveryProp LOCK响应体
type LockDiscoveryProp struct {
	XMLName     xml.Name     `xml:"D:prop"`
	Xmlns       string       `xml:"xmlns:D,attr"`
	ActiveLocks []ActiveLock `xml:"D:lockdiscovery>D:activelock"`
}

// ========================================
// Error Condition Types - 错误条件类型
// ========================================

// ErrorCondition 前置/后置条件错误体
type ErrorCondition struct {
	XMLName                       xml.Name   `xml:"D:error"`
	Xmlns                         string     `xml:"xmlns:D,attr,omitempty"`
	NoConflictingLock             *HrefList  `xml:"D:no-conflicting-lock,omitempty"`
	LockTokenSubmitted            *HrefList  `xml:"D:lock-token-submitted,omitempty"`
	LockTokenMismatch             *struct{}  `xml:"D:lock-token-matches-request-uri,omitempty"`
	PropfindFiniteDepth           *struct{}  `xml:"D:propfind-finite-depth,omitempty"`
	CannotModifyProtectedProperty *struct{}  `xml:"D:cannot-modify-protected-property,omitempty"`
}

// HrefList 错误条件中的资源列表
type HrefList struct {
	Href []string `xml:"D:href,omitempty"`
}

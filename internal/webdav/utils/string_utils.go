package utils

import (
	"encoding/xml"
	"strings"
)

// PropertyUtil 属性工具类
type PropertyUtil struct{}

var Property PropertyUtil

// GenerateKey 生成属性唯一键，格式为 {namespace}name
func (p PropertyUtil) GenerateKey(namespace, name string) string {
	return "{" + namespace + "}" + name
}

// ParseKey 解析属性键。没有命名空间部分时namespace为空。
func (p PropertyUtil) ParseKey(key string) (namespace, name string) {
	if strings.HasPrefix(key, "{") {
		if idx := strings.IndexByte(key, '}'); idx > 0 {
			return key[1:idx], key[idx+1:]
		}
	}
	return "", key
}

// KeyOf 由xml.Name生成属性键
func (p PropertyUtil) KeyOf(name xml.Name) string {
	return p.GenerateKey(name.Space, name.Local)
}

// Compare 按命名空间再按名称排序
func (p PropertyUtil) Compare(a, b xml.Name) int {
	if c := strings.Compare(a.Space, b.Space); c != 0 {
		return c
	}
	return strings.Compare(a.Local, b.Local)
}

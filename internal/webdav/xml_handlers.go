package webdav

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
)

// Depth 头解析

// ParseDepth 解析Depth头部，只接受 0、1、infinity。空值返回def。
func ParseDepth(header string, def resource.Depth) (resource.Depth, error) {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "":
		return def, nil
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	case "infinity":
		return resource.DepthInfinity, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDepth, header)
}

// FormatDepth 格式化深度值
func FormatDepth(depth resource.Depth) string {
	return depth.String()
}

// Timeout 头解析

const maxDuration = time.Duration(math.MaxInt64)

// ParseTimeout 解析Timeout头部。支持 Second-N 和 Infinite，多个候选取第一个可识别的。
// 返回0表示使用默认值；上限由LockManager截断。
func ParseTimeout(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "Infinite") {
			return maxDuration
		}
		if len(part) > len("Second-") && strings.EqualFold(part[:len("Second-")], "Second-") {
			seconds, err := strconv.ParseInt(part[len("Second-"):], 10, 64)
			if err != nil || seconds <= 0 {
				continue
			}
			if seconds > int64(maxDuration/time.Second) {
				return maxDuration
			}
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// FormatTimeout 格式化剩余超时
func FormatTimeout(remaining time.Duration) string {
	seconds := int64(remaining / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return "Second-" + strconv.FormatInt(seconds, 10)
}

// If 头解析

// ParseIfHeader 提取If头中括号列表里的锁令牌。资源标签和ETag条件被忽略。
func ParseIfHeader(header string) []string {
	var tokens []string
	inList := false
	for i := 0; i < len(header); i++ {
		switch header[i] {
		case '(':
			inList = true
		case ')':
			inList = false
		case '[':
			end := strings.IndexByte(header[i:], ']')
			if end < 0 {
				return tokens
			}
			i += end
		case '<':
			end := strings.IndexByte(header[i:], '>')
			if end < 0 {
				return tokens
			}
			if inList {
				if token := strings.TrimSpace(header[i+1 : i+end]); token != "" {
					tokens = append(tokens, token)
				}
			}
			i += end
		}
	}
	return tokens
}

// ParseLockToken 解析Lock-Token头部 "<token>"
func ParseLockToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < 3 || header[0] != '<' || header[len(header)-1] != '>' {
		return "", fmt.Errorf("%w: malformed Lock-Token header", ErrBadRequest)
	}
	return header[1 : len(header)-1], nil
}

// ParseOverwrite 解析Overwrite头部，缺省为T
func ParseOverwrite(header string) (bool, error) {
	switch strings.TrimSpace(header) {
	case "", "T", "t":
		return true, nil
	case "F", "f":
		return false, nil
	}
	return false, fmt.Errorf("%w: Overwrite must be T or F", ErrBadRequest)
}

// ParseDestination 解析Destination头部，返回相对于baseURL的路径
func ParseDestination(header, baseURL string) (davpath.Path, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: missing Destination header", ErrBadRequest)
	}
	dest, err := url.Parse(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if dest.IsAbs() && (!strings.EqualFold(dest.Scheme, base.Scheme) || !strings.EqualFold(dest.Host, base.Host)) {
		return nil, fmt.Errorf("%w: %s", ErrBadGateway, header)
	}

	prefix := davpath.Parse(base.Path)
	p := davpath.Parse(dest.Path)
	rel, ok := p.Rel(prefix)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadGateway, header)
	}
	return rel, nil
}

// CreateActiveLockResponse 创建ActiveLock响应
func CreateActiveLockResponse(lock *Lock, rootURL string, now time.Time) types.ActiveLock {
	activeLock := types.ActiveLock{
		LockType: types.LockTypeInfo{
			Write: &struct{}{},
		},
		Depth:     FormatDepth(lock.Depth),
		Timeout:   FormatTimeout(lock.ExpiresAt.Sub(now)),
		LockToken: &types.Href{Href: lock.Token},
		LockRoot:  types.Href{Href: rootURL},
	}
	if lock.Owner != "" {
		activeLock.Owner = &types.Owner{InnerXML: lock.Owner}
	}

	// 设置锁范围
	if lock.Scope == LockScopeExclusive {
		activeLock.LockScope.Exclusive = &struct{}{}
	} else {
		activeLock.LockScope.Shared = &struct{}{}
	}

	return activeLock
}

// supportedLockEntries supportedlock属性内容
func supportedLockEntries() []types.LockEntry {
	return []types.LockEntry{
		{
			LockScope: types.LockScopeInfo{Exclusive: &struct{}{}},
			LockType:  types.LockTypeInfo{Write: &struct{}{}},
		},
		{
			LockScope: types.LockScopeInfo{Shared: &struct{}{}},
			LockType:  types.LockTypeInfo{Write: &struct{}{}},
		},
	}
}

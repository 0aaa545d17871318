package webdav

import (
	"cmp"
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
	"github.com/davgate/davcore/internal/webdav/utils"
	"github.com/davgate/davcore/internal/webdav/validators"
	davxml "github.com/davgate/davcore/internal/webdav/xml"
)

// ========================================
// PROPFIND
// ========================================

func (h *Handler) handlePropfind(ctx context.Context, rq *davRequest) (*Response, error) {
	depth, err := ParseDepth(rq.Header.Get("Depth"), resource.DepthInfinity)
	if err != nil {
		return nil, err
	}
	if depth == resource.DepthInfinity && !h.config.AllowInfiniteDepth {
		return nil, ErrInfiniteDepthDenied
	}

	pf, err := h.parser.ParsePropfind(rq.Body)
	if err != nil {
		return nil, err
	}

	var entries []davxml.Entry
	for r, err := range rq.target.Descendants(ctx, depth, true) {
		if err != nil {
			return nil, err
		}
		entry, err := h.propfindEntry(ctx, rq, r, pf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return h.multistatus(entries)
}

func (h *Handler) propfindEntry(ctx context.Context, rq *davRequest, r resource.Resource, pf *types.PropfindRequest) (davxml.Entry, error) {
	entry := davxml.Entry{Href: r.URL(ctx)}

	dead, err := h.properties.List(ctx, r.Segments())
	if err != nil {
		return entry, err
	}

	var found, missing []types.Property
	switch {
	case pf == nil || pf.AllProp != nil:
		found = h.catalog.All(ctx, r)
		for _, prop := range dead {
			found = append(found, prop.Property())
		}
		if pf != nil && pf.Include != nil {
			for _, want := range pf.Include.Props {
				if isCatalogName(h.catalog, want.XMLName) || isDeadName(dead, want.XMLName) {
					continue
				}
				if prop, ok := h.resolveNamed(ctx, rq, r, want.XMLName, dead); ok {
					found = append(found, prop)
				}
			}
		}
	case pf.PropName != nil:
		for _, name := range h.catalog.Names() {
			found = append(found, davxml.RawProperty(name, ""))
		}
		for _, prop := range dead {
			found = append(found, davxml.NameOnly(prop.Property()))
		}
	default:
		for _, name := range h.orderRequested(pf.Prop.Props) {
			if prop, ok := h.resolveNamed(ctx, rq, r, name, dead); ok {
				found = append(found, prop)
			} else {
				missing = append(missing, propertyName(name))
			}
		}
	}

	entry.Groups = []davxml.PropGroup{
		{Status: http.StatusOK, Props: found},
		{Status: http.StatusNotFound, Props: missing},
	}
	return entry, nil
}

// onDemandLive 只在按名请求时返回的活属性，排在属性表之后
var onDemandLive = []string{"getcontenttype", "getetag", "lockdiscovery", "supportedlock"}

// orderRequested 去重并排序：属性表顺序，按需活属性，其余按命名空间和名称
func (h *Handler) orderRequested(props []types.Property) []xml.Name {
	names := make([]xml.Name, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, prop := range props {
		key := utils.Property.KeyOf(prop.XMLName)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, prop.XMLName)
	}
	slices.SortStableFunc(names, func(a, b xml.Name) int {
		if c := cmp.Compare(h.propertyRank(a), h.propertyRank(b)); c != 0 {
			return c
		}
		return utils.Property.Compare(a, b)
	})
	return names
}

func (h *Handler) propertyRank(name xml.Name) int {
	catalog := h.catalog.Names()
	if name.Space == types.NamespaceDAV {
		if i := slices.Index(catalog, name.Local); i >= 0 {
			return i
		}
		if i := slices.Index(onDemandLive, name.Local); i >= 0 {
			return len(catalog) + i
		}
	}
	return len(catalog) + len(onDemandLive)
}

func isCatalogName(c *PropertyCatalog, name xml.Name) bool {
	if name.Space != types.NamespaceDAV {
		return false
	}
	for _, n := range c.Names() {
		if n == name.Local {
			return true
		}
	}
	return false
}

func isDeadName(dead []DeadProperty, name xml.Name) bool {
	for _, prop := range dead {
		if prop.Namespace == name.Space && prop.Name == name.Local {
			return true
		}
	}
	return false
}

// resolveNamed 解析单个请求的属性：活属性表、按需活属性、死属性
func (h *Handler) resolveNamed(ctx context.Context, rq *davRequest, r resource.Resource, name xml.Name, dead []DeadProperty) (types.Property, bool) {
	if name.Space == types.NamespaceDAV {
		if prop, ok := h.catalog.Resolve(ctx, r, name.Local); ok {
			return prop, true
		}
		switch name.Local {
		case "getcontenttype":
			if r.IsFile(ctx) {
				return davxml.TextProperty(name.Local, r.ContentType(ctx)), true
			}
		case "getetag":
			if r.IsFile(ctx) {
				return davxml.TextProperty(name.Local, ETag(ctx, r)), true
			}
		case "lockdiscovery":
			inner, err := encodeFragments(h.serializer, h.lockManager.Discover(r.Segments(), rq.href))
			if err == nil {
				return davxml.RawProperty(name.Local, inner), true
			}
		case "supportedlock":
			inner, err := encodeFragments(h.serializer, supportedLockEntries())
			if err == nil {
				return davxml.RawProperty(name.Local, inner), true
			}
		}
	}
	for _, prop := range dead {
		if prop.Namespace == name.Space && prop.Name == name.Local {
			return prop.Property(), true
		}
	}
	return types.Property{}, false
}

func encodeFragments[T any](s *davxml.Serializer, items []T) (string, error) {
	var b strings.Builder
	for _, item := range items {
		frag, err := s.Fragment(item)
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}

// propertyName 响应中的属性名元素，DAV:属性使用D前缀
func propertyName(name xml.Name) types.Property {
	if name.Space == types.NamespaceDAV {
		return types.Property{XMLName: types.DAVName(name.Local)}
	}
	return types.Property{XMLName: name}
}

// ========================================
// PROPPATCH
// ========================================

type patchResult struct {
	name   xml.Name
	status int
	err    error
}

func (h *Handler) handleProppatch(ctx context.Context, rq *davRequest) (*Response, error) {
	if err := h.checkWrite(rq, rq.path, false, false); err != nil {
		return nil, err
	}

	update, err := h.parser.ParsePropertyUpdate(rq.Body)
	if err != nil {
		return nil, err
	}

	var (
		ops     []PropPatch
		results []patchResult
		failed  bool
	)
	for _, action := range update.Operations {
		operation := validators.OperationSet
		if action.XMLName.Local == "remove" {
			operation = validators.OperationRemove
		}
		for _, prop := range action.Prop.Props {
			res := patchResult{name: prop.XMLName, status: http.StatusOK}
			if err := h.validator.Validate(operation, prop); err != nil {
				res.status, res.err = validationStatus(err), err
				failed = true
			}
			results = append(results, res)
			ops = append(ops, PropPatch{
				Remove: operation == validators.OperationRemove,
				Prop: DeadProperty{
					Namespace: prop.XMLName.Space,
					Name:      prop.XMLName.Local,
					Value:     prop.InnerXML,
				},
			})
		}
	}

	if failed {
		for i := range results {
			if results[i].err == nil {
				results[i].status = http.StatusFailedDependency
			}
		}
	} else if err := h.properties.Patch(ctx, rq.path, ops); err != nil {
		return nil, err
	}

	entry := davxml.Entry{Href: rq.target.URL(ctx)}
	for _, res := range dedupeResults(results) {
		entry.Groups = appendToGroup(entry.Groups, res.status, propertyName(res.name))
		if res.status == http.StatusForbidden {
			entry.Error = &types.ErrorCondition{CannotModifyProtectedProperty: &struct{}{}}
		}
	}
	return h.multistatus([]davxml.Entry{entry})
}

func validationStatus(err error) int {
	var verr *validators.ValidationError
	if errors.As(err, &verr) {
		return verr.Status
	}
	return http.StatusInternalServerError
}

// dedupeResults 同名属性只报告一次，失败状态优先
func dedupeResults(results []patchResult) []patchResult {
	index := make(map[string]int, len(results))
	var out []patchResult
	for _, res := range results {
		key := utils.Property.KeyOf(res.name)
		if i, ok := index[key]; ok {
			if out[i].err == nil && res.err != nil {
				out[i] = res
			}
			continue
		}
		index[key] = len(out)
		out = append(out, res)
	}
	return out
}

func appendToGroup(groups []davxml.PropGroup, status int, prop types.Property) []davxml.PropGroup {
	for i := range groups {
		if groups[i].Status == status {
			groups[i].Props = append(groups[i].Props, prop)
			return groups
		}
	}
	return append(groups, davxml.PropGroup{Status: status, Props: []types.Property{prop}})
}

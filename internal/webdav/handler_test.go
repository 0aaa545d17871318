package webdav

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/storage"
)

const testBase = "http://testserver/base"

var fixedTime = time.Date(2014, 12, 24, 6, 0, 0, 0, time.UTC)

// ========================================
// Test helpers
// ========================================

func newTestTree(t *testing.T) *storage.Memory {
	t.Helper()
	fs := storage.NewMemory()
	fs.SetClock(func() time.Time { return fixedTime })
	require.NoError(t, fs.MkdirAll(davpath.Parse("/collection/sub_colection")))
	require.NoError(t, fs.WriteFile(davpath.Parse("/collection/sub_object"), []byte(strings.Repeat("x", 42))))
	return fs
}

func newTestHandler(t *testing.T, cfg Config, opts ...Option) (*Handler, *storage.Memory) {
	t.Helper()
	fs := newTestTree(t)
	return newHandlerFor(fs, cfg, opts...), fs
}

func newHandlerFor(fs resource.Adapter, cfg Config, opts ...Option) *Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewHandler(fs, cfg, opts...)
}

type header map[string]string

func do(h *Handler, method, path string, hdr header, body string) *Response {
	req := &Request{
		Method:  method,
		Path:    path,
		BaseURL: testBase,
		Header:  make(http.Header),
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.Body = strings.NewReader(body)
	}
	return h.Serve(context.Background(), req)
}

type testProp struct {
	XMLName xml.Name
	Value   string `xml:",innerxml"`
}

type testPropstat struct {
	Prop struct {
		Props []testProp `xml:",any"`
	} `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type testResponse struct {
	Href      string         `xml:"DAV: href"`
	Status    string         `xml:"DAV: status"`
	Propstats []testPropstat `xml:"DAV: propstat"`
	Error *struct {
		Inner string `xml:",innerxml"`
	} `xml:"DAV: error"`
}

func (r testResponse) propNames(i int) []string {
	var names []string
	for _, p := range r.Propstats[i].Prop.Props {
		names = append(names, p.XMLName.Local)
	}
	return names
}

func (r testResponse) prop(i int, local string) (string, bool) {
	for _, p := range r.Propstats[i].Prop.Props {
		if p.XMLName.Local == local {
			return p.Value, true
		}
	}
	return "", false
}

func parseMultistatus(t *testing.T, resp *Response) map[string]testResponse {
	t.Helper()
	require.Equal(t, http.StatusMultiStatus, resp.Status, string(resp.Body))
	assert.Equal(t, xmlContentType, resp.Header.Get("Content-Type"))

	var ms struct {
		Responses []testResponse `xml:"DAV: response"`
	}
	require.NoError(t, xml.Unmarshal(resp.Body, &ms))
	out := make(map[string]testResponse, len(ms.Responses))
	for _, r := range ms.Responses {
		out[r.Href] = r
	}
	require.Len(t, out, len(ms.Responses), "duplicate hrefs")
	return out
}

const lockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>mailto:someone@example.com</D:href></D:owner>
</D:lockinfo>`

const sharedLockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:shared/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
</D:lockinfo>`

func lock(t *testing.T, h *Handler, path string, hdr header) string {
	t.Helper()
	resp := do(h, "LOCK", path, hdr, lockBody)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.Status, string(resp.Body))
	token := resp.Header.Get("Lock-Token")
	require.True(t, strings.HasPrefix(token, "<opaquelocktoken:"), token)
	return strings.Trim(token, "<>")
}

// ========================================
// PROPFIND
// ========================================

func TestPropfind_CollectionDepthOne(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	resp := do(h, "PROPFIND", "/collection/", header{"Depth": "1"}, "")
	entries := parseMultistatus(t, resp)
	require.Len(t, entries, 3)

	self, ok := entries[testBase+"/collection/"]
	require.True(t, ok)
	assert.Equal(t, "HTTP/1.1 200 OK", self.Propstats[0].Status)

	object, ok := entries[testBase+"/collection/sub_object"]
	require.True(t, ok)
	require.Len(t, object.Propstats, 1)
	assert.Equal(t, "HTTP/1.1 200 OK", object.Propstats[0].Status)
	assert.Equal(t, []string{"getcontentlength", "creationdate", "getlastmodified", "resourcetype", "displayname"}, object.propNames(0))
	length, _ := object.prop(0, "getcontentlength")
	assert.Equal(t, "42", length)
	created, _ := object.prop(0, "creationdate")
	assert.Equal(t, "2014-12-24T06:00:00Z", created)
	modified, _ := object.prop(0, "getlastmodified")
	assert.Equal(t, "Wed, 24 Dec 2014 06:00:00 GMT", modified)
	rtype, _ := object.prop(0, "resourcetype")
	assert.Empty(t, rtype)

	coll, ok := entries[testBase+"/collection/sub_colection/"]
	require.True(t, ok)
	require.Len(t, coll.Propstats, 1)
	assert.Equal(t, "HTTP/1.1 200 OK", coll.Propstats[0].Status)
	assert.Equal(t, []string{"getcontentlength", "creationdate", "getlastmodified", "resourcetype", "displayname"}, coll.propNames(0))
	length, _ = coll.prop(0, "getcontentlength")
	assert.Equal(t, "0", length)
	rtype, _ = coll.prop(0, "resourcetype")
	assert.Contains(t, rtype, "collection")
	name, _ := coll.prop(0, "displayname")
	assert.Equal(t, "sub_colection", name)
}

func TestPropfind_DepthZero(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	resp := do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, "")
	entries := parseMultistatus(t, resp)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, testBase+"/collection/sub_object")
}

func TestPropfind_NamedPropertiesWithMissing(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	body := `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:Z="urn:example">
  <D:prop>
    <D:supportedlock/>
    <D:getetag/>
    <D:displayname/>
    <Z:quota/>
    <D:getcontenttype/>
    <D:getcontentlength/>
    <D:getetag/>
  </D:prop>
</D:propfind>`
	resp := do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, body)
	entries := parseMultistatus(t, resp)
	entry := entries[testBase+"/collection/sub_object"]
	require.Len(t, entry.Propstats, 2)

	assert.Equal(t, "HTTP/1.1 200 OK", entry.Propstats[0].Status)
	assert.Equal(t, []string{"getcontentlength", "displayname", "getcontenttype", "getetag", "supportedlock"}, entry.propNames(0))
	lockEntries, _ := entry.prop(0, "supportedlock")
	assert.Contains(t, lockEntries, "exclusive")
	assert.Contains(t, lockEntries, "shared")

	assert.Equal(t, "HTTP/1.1 404 Not Found", entry.Propstats[1].Status)
	assert.Equal(t, []string{"quota"}, entry.propNames(1))
	assert.Equal(t, "urn:example", entry.Propstats[1].Prop.Props[0].XMLName.Space)
}

func TestPropfind_Propname(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
	resp := do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, body)
	entry := parseMultistatus(t, resp)[testBase+"/collection/sub_object"]
	assert.Equal(t, h.catalog.Names(), entry.propNames(0))
	for _, p := range entry.Propstats[0].Prop.Props {
		assert.Empty(t, p.Value)
	}
}

func TestPropfind_InfiniteDepthPolicy(t *testing.T) {
	t.Run("默认拒绝", func(t *testing.T) {
		h, _ := newTestHandler(t, Config{})
		resp := do(h, "PROPFIND", "/collection/", nil, "")
		assert.Equal(t, http.StatusForbidden, resp.Status)
		assert.Contains(t, string(resp.Body), "propfind-finite-depth")
	})

	t.Run("配置允许", func(t *testing.T) {
		h, _ := newTestHandler(t, Config{AllowInfiniteDepth: true})
		resp := do(h, "PROPFIND", "/", header{"Depth": "infinity"}, "")
		entries := parseMultistatus(t, resp)
		assert.Len(t, entries, 4)
		assert.Contains(t, entries, testBase+"/")
		assert.Contains(t, entries, testBase+"/collection/sub_colection/")
	})
}

func TestPropfind_Errors(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	tests := []struct {
		name   string
		path   string
		hdr    header
		body   string
		status int
	}{
		{"资源不存在", "/nothing", header{"Depth": "0"}, "", http.StatusNotFound},
		{"非法Depth", "/collection/", header{"Depth": "2"}, "", http.StatusBadRequest},
		{"畸形XML", "/collection/", header{"Depth": "0"}, "<D:propfind xmlns:D=\"DAV:\">", http.StatusBadRequest},
		{"空propfind", "/collection/", header{"Depth": "0"}, "<D:propfind xmlns:D=\"DAV:\"/>", http.StatusBadRequest},
		{"空prop", "/collection/", header{"Depth": "0"}, "<D:propfind xmlns:D=\"DAV:\"><D:prop/></D:propfind>", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(h, "PROPFIND", tt.path, tt.hdr, tt.body)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

// ========================================
// Canonical redirects / GET / HEAD / OPTIONS
// ========================================

func TestCanonicalRedirect(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	tests := []struct {
		name     string
		method   string
		path     string
		location string
	}{
		{"集合缺少分隔符", http.MethodGet, "/collection", testBase + "/collection/"},
		{"对象多余分隔符", http.MethodGet, "/collection/sub_object/", testBase + "/collection/sub_object"},
		{"HEAD", http.MethodHead, "/collection/sub_colection", testBase + "/collection/sub_colection/"},
		{"PROPFIND", "PROPFIND", "/collection", testBase + "/collection/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(h, tt.method, tt.path, header{"Depth": "0"}, "")
			assert.Equal(t, http.StatusFound, resp.Status)
			assert.Equal(t, tt.location, resp.Header.Get("Location"))
		})
	}

	t.Run("不存在的资源不重定向", func(t *testing.T) {
		resp := do(h, http.MethodGet, "/missing/", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})
}

func TestGet_Object(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	resp := do(h, http.MethodGet, "/collection/sub_object", nil, "")
	require.Equal(t, http.StatusOK, resp.Status)
	require.NotNil(t, resp.Content)
	defer resp.Content.Close()

	data, err := io.ReadAll(resp.Content)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 42), string(data))
	assert.Equal(t, "42", resp.Header.Get("Content-Length"))
	assert.Equal(t, "Wed, 24 Dec 2014 06:00:00 GMT", resp.Header.Get("Last-Modified"))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	head := do(h, http.MethodHead, "/collection/sub_object", nil, "")
	assert.Equal(t, http.StatusOK, head.Status)
	assert.Nil(t, head.Content)
	assert.Equal(t, "42", head.Header.Get("Content-Length"))
	assert.Equal(t, resp.Header.Get("ETag"), head.Header.Get("ETag"))
}

func TestGet_Collection(t *testing.T) {
	t.Run("默认列表", func(t *testing.T) {
		h, _ := newTestHandler(t, Config{})
		resp := do(h, http.MethodGet, "/collection/", nil, "")
		require.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "sub_colection/\nsub_object\n", string(resp.Body))
	})

	t.Run("自定义处理", func(t *testing.T) {
		getter := func(_ context.Context, r resource.Resource) (*Response, error) {
			resp := newResponse(http.StatusTeapot)
			resp.Body = []byte(r.Name())
			return resp, nil
		}
		h, _ := newTestHandler(t, Config{}, WithCollectionGetter(getter))
		resp := do(h, http.MethodGet, "/collection/", nil, "")
		assert.Equal(t, http.StatusTeapot, resp.Status)
		assert.Equal(t, "collection", string(resp.Body))

		head := do(h, http.MethodHead, "/collection/", nil, "")
		assert.Equal(t, http.StatusTeapot, head.Status)
		assert.Empty(t, head.Body)
	})
}

func TestOptions(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	resp := do(h, http.MethodOptions, "/anything", nil, "")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "1, 2", resp.Header.Get("DAV"))
	assert.Equal(t, "DAV", resp.Header.Get("MS-Author-Via"))
	assert.Contains(t, resp.Header.Get("Allow"), "PROPFIND")
}

func TestUnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	resp := do(h, "PATCH", "/collection/", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)
	assert.Equal(t, allowedMethods, resp.Header.Get("Allow"))
}

// ========================================
// PUT / MKCOL / DELETE
// ========================================

func TestPut(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	resp := do(h, http.MethodPut, "/collection/new.txt", nil, "hello")
	assert.Equal(t, http.StatusCreated, resp.Status)
	size, err := fs.Size(ctx, davpath.Parse("/collection/new.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	resp = do(h, http.MethodPut, "/collection/new.txt", nil, "hello world")
	assert.Equal(t, http.StatusNoContent, resp.Status)

	assert.Equal(t, http.StatusConflict, do(h, http.MethodPut, "/missing/new.txt", nil, "x").Status)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodPut, "/collection/sub_colection/", nil, "x").Status)
	assert.Equal(t, http.StatusCreated, do(h, http.MethodPut, "/collection/empty", nil, "").Status)
}

func TestMkcol(t *testing.T) {
	h, fs := newTestHandler(t, Config{})

	assert.Equal(t, http.StatusCreated, do(h, "MKCOL", "/collection/made/", nil, "").Status)
	assert.True(t, fs.IsCollection(context.Background(), davpath.Parse("/collection/made")))

	assert.Equal(t, http.StatusMethodNotAllowed, do(h, "MKCOL", "/collection/made/", nil, "").Status)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, "MKCOL", "/collection/sub_object", nil, "").Status)
	assert.Equal(t, http.StatusConflict, do(h, "MKCOL", "/missing/child/", nil, "").Status)
	assert.Equal(t, http.StatusUnsupportedMediaType, do(h, "MKCOL", "/collection/withbody/", nil, "<x/>").Status)
}

func TestDelete(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	assert.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/collection/", nil, "").Status)
	assert.False(t, fs.Exists(ctx, davpath.Parse("/collection")))
	assert.False(t, fs.Exists(ctx, davpath.Parse("/collection/sub_object")))

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/collection/", nil, "").Status)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodDelete, "/", header{"Depth": "0"}, "").Status)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodDelete, "/", nil, "").Status)
}

func TestDelete_LockedMemberReported(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	lock(t, h, "/collection/sub_object", header{"Depth": "0"})

	resp := do(h, http.MethodDelete, "/collection/", nil, "")
	entries := parseMultistatus(t, resp)
	require.Len(t, entries, 1)
	entry := entries[testBase+"/collection/sub_object"]
	assert.Equal(t, "HTTP/1.1 423 Locked", entry.Status)
	require.NotNil(t, entry.Error)
	assert.Contains(t, entry.Error.Inner, "lock-token-submitted")

	assert.True(t, fs.Exists(ctx, davpath.Parse("/collection/sub_object")))
	assert.True(t, fs.Exists(ctx, davpath.Parse("/collection")))
	assert.False(t, fs.Exists(ctx, davpath.Parse("/collection/sub_colection")))
}

func TestDelete_DropsDeadProperties(t *testing.T) {
	store := NewMemoryPropertyStore()
	h, _ := newTestHandler(t, Config{}, WithPropertyStore(store))
	ctx := context.Background()
	p := davpath.Parse("/collection/sub_object")
	require.NoError(t, store.Patch(ctx, p, []PropPatch{setOp("urn:x", "color", "red")}))

	require.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/collection/sub_object", nil, "").Status)
	props, err := store.List(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, props)
}

// ========================================
// COPY / MOVE
// ========================================

func TestCopy(t *testing.T) {
	store := NewMemoryPropertyStore()
	h, fs := newTestHandler(t, Config{}, WithPropertyStore(store))
	ctx := context.Background()
	require.NoError(t, store.Patch(ctx, davpath.Parse("/collection/sub_object"), []PropPatch{setOp("urn:x", "color", "red")}))

	resp := do(h, "COPY", "/collection/", header{"Destination": testBase + "/copy/"}, "")
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, testBase+"/copy/", resp.Header.Get("Location"))
	assert.True(t, fs.IsCollection(ctx, davpath.Parse("/copy/sub_colection")))
	size, err := fs.Size(ctx, davpath.Parse("/copy/sub_object"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, size)
	assert.True(t, fs.Exists(ctx, davpath.Parse("/collection/sub_object")))

	props, err := store.List(ctx, davpath.Parse("/copy/sub_object"))
	require.NoError(t, err)
	assert.Equal(t, []DeadProperty{{Namespace: "urn:x", Name: "color", Value: "red"}}, props)

	t.Run("覆盖", func(t *testing.T) {
		resp := do(h, "COPY", "/collection/sub_object", header{"Destination": "/base/copy/sub_object"}, "")
		assert.Equal(t, http.StatusNoContent, resp.Status)
	})

	t.Run("Depth 0只复制集合本身", func(t *testing.T) {
		resp := do(h, "COPY", "/collection/", header{"Destination": testBase + "/shallow/", "Depth": "0"}, "")
		assert.Equal(t, http.StatusCreated, resp.Status)
		children, err := fs.ListChildren(ctx, davpath.Parse("/shallow"))
		require.NoError(t, err)
		assert.Empty(t, children)
	})
}

func TestCopy_Errors(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	tests := []struct {
		name   string
		path   string
		hdr    header
		status int
	}{
		{"缺少Destination", "/collection/", header{}, http.StatusBadRequest},
		{"其他主机", "/collection/", header{"Destination": "http://elsewhere/base/x"}, http.StatusBadGateway},
		{"基路径之外", "/collection/", header{"Destination": "http://testserver/other/x"}, http.StatusBadGateway},
		{"相同路径", "/collection/", header{"Destination": testBase + "/collection/"}, http.StatusForbidden},
		{"目标在源内", "/collection/", header{"Destination": testBase + "/collection/inner/"}, http.StatusForbidden},
		{"不覆盖", "/collection/sub_object", header{"Destination": testBase + "/collection/sub_colection", "Overwrite": "F"}, http.StatusPreconditionFailed},
		{"目标父集合不存在", "/collection/sub_object", header{"Destination": testBase + "/missing/x"}, http.StatusConflict},
		{"非法Overwrite", "/collection/sub_object", header{"Destination": testBase + "/x", "Overwrite": "maybe"}, http.StatusBadRequest},
		{"Depth 1", "/collection/", header{"Destination": testBase + "/x/", "Depth": "1"}, http.StatusBadRequest},
		{"源不存在", "/missing", header{"Destination": testBase + "/x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, do(h, "COPY", tt.path, tt.hdr, "").Status)
		})
	}
}

func TestMove(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	resp := do(h, "MOVE", "/collection/", header{"Destination": testBase + "/moved/"}, "")
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.False(t, fs.Exists(ctx, davpath.Parse("/collection")))
	assert.True(t, fs.IsObject(ctx, davpath.Parse("/moved/sub_object")))
	assert.True(t, fs.IsCollection(ctx, davpath.Parse("/moved/sub_colection")))

	assert.Equal(t, http.StatusBadRequest,
		do(h, "MOVE", "/moved/", header{"Destination": testBase + "/again/", "Depth": "0"}, "").Status)
}

func TestCopyMove_DestinationContainsSource(t *testing.T) {
	for _, method := range []string{"COPY", "MOVE"} {
		t.Run(method, func(t *testing.T) {
			h, fs := newTestHandler(t, Config{})
			ctx := context.Background()

			for _, dst := range []string{testBase + "/collection", testBase + "/collection/", testBase + "/"} {
				resp := do(h, method, "/collection/sub_object", header{"Destination": dst, "Overwrite": "T"}, "")
				assert.Equal(t, http.StatusForbidden, resp.Status, dst)
			}
			assert.True(t, fs.IsObject(ctx, davpath.Parse("/collection/sub_object")))
			assert.True(t, fs.IsCollection(ctx, davpath.Parse("/collection/sub_colection")))
		})
	}
}

// failingAdapter 对名称包含bad的对象写入失败
type failingAdapter struct {
	*storage.Memory
}

var errInjected = errors.New("injected write failure")

func (f failingAdapter) Create(ctx context.Context, p davpath.Path, r io.Reader) (int64, error) {
	if strings.Contains(p.String(), "bad") {
		return 0, errInjected
	}
	return f.Memory.Create(ctx, p, r)
}

func TestMove_AbortsWhenCopyFails(t *testing.T) {
	fs := newTestTree(t)
	require.NoError(t, fs.WriteFile(davpath.Parse("/collection/bad.txt"), []byte("data")))
	h := newHandlerFor(failingAdapter{fs}, Config{})
	ctx := context.Background()

	resp := do(h, "MOVE", "/collection/", header{"Destination": testBase + "/moved/"}, "")
	entries := parseMultistatus(t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", entries[testBase+"/moved/bad.txt"].Status)

	assert.True(t, fs.IsObject(ctx, davpath.Parse("/collection/bad.txt")))
	assert.True(t, fs.IsObject(ctx, davpath.Parse("/collection/sub_object")))
	assert.True(t, fs.IsCollection(ctx, davpath.Parse("/collection/sub_colection")))
}

// ========================================
// PROPPATCH
// ========================================

func TestProppatch(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	body := `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:x">
  <D:set><D:prop><Z:color>red</Z:color><Z:gone>1</Z:gone></D:prop></D:set>
  <D:remove><D:prop><Z:gone/></D:prop></D:remove>
</D:propertyupdate>`
	resp := do(h, "PROPPATCH", "/collection/sub_object", nil, body)
	entry := parseMultistatus(t, resp)[testBase+"/collection/sub_object"]
	require.Len(t, entry.Propstats, 1)
	assert.Equal(t, "HTTP/1.1 200 OK", entry.Propstats[0].Status)
	assert.Equal(t, []string{"color", "gone"}, entry.propNames(0))

	resp = do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, "")
	entry = parseMultistatus(t, resp)[testBase+"/collection/sub_object"]
	assert.Equal(t, []string{"getcontentlength", "creationdate", "getlastmodified", "resourcetype", "displayname", "color"}, entry.propNames(0))
	color, _ := entry.prop(0, "color")
	assert.Equal(t, "red", color)

	named := `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:Z="urn:x"><D:prop><Z:color/><Z:gone/></D:prop></D:propfind>`
	entry = parseMultistatus(t, do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, named))[testBase+"/collection/sub_object"]
	assert.Equal(t, []string{"color"}, entry.propNames(0))
	assert.Equal(t, []string{"gone"}, entry.propNames(1))
}

func TestProppatch_ProtectedIsAllOrNothing(t *testing.T) {
	store := NewMemoryPropertyStore()
	h, _ := newTestHandler(t, Config{}, WithPropertyStore(store))

	body := `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:x">
  <D:set><D:prop><Z:color>red</Z:color><D:getcontentlength>1</D:getcontentlength></D:prop></D:set>
</D:propertyupdate>`
	resp := do(h, "PROPPATCH", "/collection/sub_object", nil, body)
	entry := parseMultistatus(t, resp)[testBase+"/collection/sub_object"]
	require.Len(t, entry.Propstats, 2)
	assert.Equal(t, "HTTP/1.1 424 Failed Dependency", entry.Propstats[0].Status)
	assert.Equal(t, []string{"color"}, entry.propNames(0))
	assert.Equal(t, "HTTP/1.1 403 Forbidden", entry.Propstats[1].Status)
	assert.Equal(t, []string{"getcontentlength"}, entry.propNames(1))
	require.NotNil(t, entry.Error)
	assert.Contains(t, entry.Error.Inner, "cannot-modify-protected-property")

	props, err := store.List(context.Background(), davpath.Parse("/collection/sub_object"))
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestProppatch_Errors(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	assert.Equal(t, http.StatusNotFound, do(h, "PROPPATCH", "/missing", nil, "<x/>").Status)
	assert.Equal(t, http.StatusBadRequest, do(h, "PROPPATCH", "/collection/sub_object", nil, "").Status)
	assert.Equal(t, http.StatusBadRequest, do(h, "PROPPATCH", "/collection/sub_object", nil, "<D:propertyupdate xmlns:D=\"DAV:\">").Status)
}

// ========================================
// LOCK / UNLOCK
// ========================================

func TestLock_ExclusiveLifecycle(t *testing.T) {
	lm := NewLockManager(WithClock(func() time.Time { return fixedTime }))
	h, _ := newTestHandler(t, Config{}, WithLockManager(lm))

	resp := do(h, "LOCK", "/collection/sub_object", header{"Depth": "0", "Timeout": "Second-600"}, lockBody)
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Body))
	token := strings.Trim(resp.Header.Get("Lock-Token"), "<>")
	body := string(resp.Body)
	assert.Contains(t, body, "<D:lockdiscovery>")
	assert.Contains(t, body, "exclusive")
	assert.Contains(t, body, "Second-600")
	assert.Contains(t, body, token)
	assert.Contains(t, body, "mailto:someone@example.com")

	t.Run("冲突", func(t *testing.T) {
		resp := do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, lockBody)
		assert.Equal(t, http.StatusLocked, resp.Status)
		assert.Contains(t, string(resp.Body), "no-conflicting-lock")
	})

	t.Run("无令牌写入", func(t *testing.T) {
		resp := do(h, http.MethodPut, "/collection/sub_object", nil, "new")
		assert.Equal(t, http.StatusLocked, resp.Status)
		assert.Contains(t, string(resp.Body), "lock-token-submitted")
	})

	t.Run("带令牌写入", func(t *testing.T) {
		resp := do(h, http.MethodPut, "/collection/sub_object", header{"If": "(<" + token + ">)"}, "new")
		assert.Equal(t, http.StatusNoContent, resp.Status)
	})

	t.Run("lockdiscovery", func(t *testing.T) {
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:lockdiscovery/></D:prop></D:propfind>`
		entry := parseMultistatus(t, do(h, "PROPFIND", "/collection/sub_object", header{"Depth": "0"}, body))[testBase+"/collection/sub_object"]
		discovery, ok := entry.prop(0, "lockdiscovery")
		require.True(t, ok)
		assert.Contains(t, discovery, token)
	})

	t.Run("刷新", func(t *testing.T) {
		resp := do(h, "LOCK", "/collection/sub_object", header{"If": "(<" + token + ">)", "Timeout": "Second-60"}, "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Contains(t, string(resp.Body), "Second-60")

		resp = do(h, "LOCK", "/collection/sub_object", header{"If": "(<opaquelocktoken:unknown>)"}, "")
		assert.Equal(t, http.StatusPreconditionFailed, resp.Status)

		resp = do(h, "LOCK", "/collection/sub_object", nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("解锁", func(t *testing.T) {
		resp := do(h, "UNLOCK", "/collection/sub_colection/", header{"Lock-Token": "<" + token + ">"}, "")
		assert.Equal(t, http.StatusConflict, resp.Status)
		assert.Contains(t, string(resp.Body), "lock-token-matches-request-uri")

		assert.Equal(t, http.StatusNoContent, do(h, "UNLOCK", "/collection/sub_object", header{"Lock-Token": "<" + token + ">"}, "").Status)
		assert.Equal(t, http.StatusConflict, do(h, "UNLOCK", "/collection/sub_object", header{"Lock-Token": "<" + token + ">"}, "").Status)
		assert.Equal(t, http.StatusBadRequest, do(h, "UNLOCK", "/collection/sub_object", nil, "").Status)
		assert.Equal(t, http.StatusBadRequest, do(h, "UNLOCK", "/collection/sub_object", header{"Lock-Token": token}, "").Status)
	})

	t.Run("解锁后可写", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, do(h, http.MethodPut, "/collection/sub_object", nil, "free").Status)
	})
}

func TestLock_DepthInfinityCoversMembers(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	token := lock(t, h, "/collection/", nil)

	resp := do(h, http.MethodPut, "/collection/new.txt", nil, "x")
	assert.Equal(t, http.StatusLocked, resp.Status)
	assert.Contains(t, string(resp.Body), testBase+"/collection/")

	assert.Equal(t, http.StatusLocked, do(h, "MKCOL", "/collection/sub_colection/deeper/", nil, "").Status)
	assert.Equal(t, http.StatusLocked, do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, lockBody).Status)
	assert.Equal(t, http.StatusCreated, do(h, http.MethodPut, "/collection/new.txt", header{"If": "(<" + token + ">)"}, "x").Status)

	unlock := do(h, "UNLOCK", "/collection/sub_object", header{"Lock-Token": "<" + token + ">"}, "")
	assert.Equal(t, http.StatusNoContent, unlock.Status)
}

func TestLock_SharedLocksCoexist(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	assert.Equal(t, http.StatusOK, do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, sharedLockBody).Status)
	assert.Equal(t, http.StatusOK, do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, sharedLockBody).Status)
	assert.Equal(t, http.StatusLocked, do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, lockBody).Status)
	assert.Equal(t, http.StatusLocked, do(h, "LOCK", "/collection/", nil, lockBody).Status)
}

func TestLock_MissingTargetCreatesEmptyObject(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	resp := do(h, "LOCK", "/collection/reserved.txt", nil, lockBody)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, fs.IsObject(ctx, davpath.Parse("/collection/reserved.txt")))
	size, err := fs.Size(ctx, davpath.Parse("/collection/reserved.txt"))
	require.NoError(t, err)
	assert.Zero(t, size)

	resp = do(h, "LOCK", "/missing/reserved.txt", nil, lockBody)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, 1, h.LockManager().Count())
}

func TestLock_MissingTargetHonoursParentLock(t *testing.T) {
	h, fs := newTestHandler(t, Config{})
	ctx := context.Background()

	token := lock(t, h, "/collection/", header{"Depth": "0"})

	resp := do(h, "LOCK", "/collection/other.txt", nil, lockBody)
	assert.Equal(t, http.StatusLocked, resp.Status)
	assert.Contains(t, string(resp.Body), "lock-token-submitted")
	assert.False(t, fs.Exists(ctx, davpath.Parse("/collection/other.txt")))
	assert.Equal(t, 1, h.LockManager().Count())

	resp = do(h, "LOCK", "/collection/other.txt", header{"If": "(<" + token + ">)"}, lockBody)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, fs.IsObject(ctx, davpath.Parse("/collection/other.txt")))

	// 已存在的成员不受父集合Depth 0锁影响
	resp = do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, lockBody)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestLock_InvalidRequests(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	assert.Equal(t, http.StatusBadRequest, do(h, "LOCK", "/collection/", header{"Depth": "1"}, lockBody).Status)
	assert.Equal(t, http.StatusBadRequest, do(h, "LOCK", "/collection/", nil, "<D:lockinfo xmlns:D=\"DAV:\"><D:locktype><D:write/></D:locktype></D:lockinfo>").Status)
}

func TestLock_ConcurrentExclusive(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	const workers = 16
	statuses := make([]int, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			statuses[i] = do(h, "LOCK", "/collection/sub_object", header{"Depth": "0"}, lockBody).Status
			return nil
		})
	}
	require.NoError(t, g.Wait())

	counts := make(map[int]int)
	for _, status := range statuses {
		counts[status]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, workers-1, counts[http.StatusLocked])
	assert.Equal(t, 1, h.LockManager().Count())
}

package resource

import (
	"context"
	"iter"
	"strconv"
)

// Depth bounds a traversal. DepthInfinity walks the whole subtree.
type Depth int

const DepthInfinity Depth = -1

func (d Depth) String() string {
	if d < 0 {
		return "infinity"
	}
	return strconv.Itoa(int(d))
}

// Children yields the immediate children of a collection. Objects and
// missing resources have none. Each range re-lists the adapter.
func (r Resource) Children(ctx context.Context) iter.Seq2[Resource, error] {
	return func(yield func(Resource, error) bool) {
		if !r.IsDir(ctx) {
			return
		}
		names, err := r.fs.ListChildren(ctx, r.path)
		if err != nil {
			yield(Resource{}, err)
			return
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(Resource{}, err)
				return
			}
			if !yield(r.Child(name), nil) {
				return
			}
		}
	}
}

// Descendants yields r (when includeSelf) and then, for depth > 0, every
// child's Descendants(depth-1, true) in child order. Errors are yielded in
// place and end the walk.
func (r Resource) Descendants(ctx context.Context, depth Depth, includeSelf bool) iter.Seq2[Resource, error] {
	return func(yield func(Resource, error) bool) {
		r.walk(ctx, depth, includeSelf, yield)
	}
}

func (r Resource) walk(ctx context.Context, depth Depth, includeSelf bool, yield func(Resource, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(Resource{}, err)
		return false
	}
	if includeSelf && !yield(r, nil) {
		return false
	}
	if depth == 0 {
		return true
	}
	next := depth - 1
	if depth < 0 {
		next = DepthInfinity
	}
	for child, err := range r.Children(ctx) {
		if err != nil {
			yield(Resource{}, err)
			return false
		}
		if !child.walk(ctx, next, true, yield) {
			return false
		}
	}
	return true
}

// PostOrder yields the subtree below r children-first, ending with r
// itself. Removal walks use it so a collection follows its members.
func (r Resource) PostOrder(ctx context.Context) iter.Seq2[Resource, error] {
	return func(yield func(Resource, error) bool) {
		r.postWalk(ctx, yield)
	}
}

func (r Resource) postWalk(ctx context.Context, yield func(Resource, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(Resource{}, err)
		return false
	}
	for child, err := range r.Children(ctx) {
		if err != nil {
			yield(Resource{}, err)
			return false
		}
		if !child.postWalk(ctx, yield) {
			return false
		}
	}
	return yield(r, nil)
}

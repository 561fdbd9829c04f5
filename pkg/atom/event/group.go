package event

import (
	"fmt"
	"reflect"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/registry"
)

// AnyGroup is the type-erased view of a group node.
type AnyGroup interface {
	// AcceptedType returns the event type the group accepts.
	AcceptedType() reflect.Type
	// AcceptsEventType reports whether events of t may belong to the group.
	AcceptsEventType(t reflect.Type) bool
	// AcceptsEvent reports whether the chain behind ec belongs to the group
	// and every ancestor.
	AcceptsEvent(ec *Context) bool
	// Parent returns the parent group, or nil for a root.
	Parent() AnyGroup
	// RootGroup returns the top of the hierarchy.
	RootGroup() AnyGroup
	// HierarchyPath returns the groups from the root down to this one.
	HierarchyPath() []AnyGroup
	// Label describes the group's matcher.
	Label() string
}

// groupNode is one node of a group tree. Children are created on first
// use and shared afterwards, keyed by their matcher.
type groupNode struct {
	accepted reflect.Type
	parent   *groupNode
	label    string
	match    func(ch *chain) bool
	children *registry.Registry[any, *groupNode]
}

func newNode(accepted reflect.Type, parent *groupNode, label string, match func(*chain) bool) *groupNode {
	return &groupNode{
		accepted: accepted,
		parent:   parent,
		label:    label,
		match:    match,
		children: registry.New[any, *groupNode](),
	}
}

func (n *groupNode) AcceptedType() reflect.Type { return n.accepted }

func (n *groupNode) AcceptsEventType(t reflect.Type) bool {
	return t != nil && t.AssignableTo(n.accepted)
}

func (n *groupNode) AcceptsEvent(ec *Context) bool {
	return n.accepts(ec.ch)
}

func (n *groupNode) accepts(ch *chain) bool {
	t := reflect.TypeOf(ch.event)
	for g := n; g != nil; g = g.parent {
		if !g.AcceptsEventType(t) {
			return false
		}
		if g.match != nil && !g.match(ch) {
			return false
		}
	}
	return true
}

func (n *groupNode) Parent() AnyGroup {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *groupNode) RootGroup() AnyGroup {
	g := n
	for g.parent != nil {
		g = g.parent
	}
	return g
}

func (n *groupNode) HierarchyPath() []AnyGroup {
	var path []AnyGroup
	for g := n; g != nil; g = g.parent {
		path = append(path, g)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (n *groupNode) Label() string { return n.label }

func (n *groupNode) String() string {
	if n.parent == nil {
		return n.label
	}
	return n.parent.String() + "/" + n.label
}

// Group scopes registrations to a subset of events of type E. A root group
// accepts every E; subgroups narrow by type, by a value extracted from the
// event, or by a value provided with the post.
type Group[E any] struct {
	*groupNode
}

// NewGroup creates a root group accepting every E.
func NewGroup[E any]() *Group[E] {
	t := reflect.TypeFor[E]()
	return &Group[E]{newNode(t, nil, t.String(), nil)}
}

// NewRegistration starts a builder whose registration only runs for events
// this group accepts.
func (g *Group[E]) NewRegistration() RegistrationBuilder[E] {
	b := NewRegistration[E]()
	b.group = g.groupNode
	return b
}

type subKey struct {
	t reflect.Type
}

type extractKey struct {
	extractor any
	value     any
}

type providedKey struct {
	t     reflect.Type
	value any
}

// SubGroup narrows g to events of type C. C must be assignable to E.
func SubGroup[C, E any](g *Group[E]) (*Group[C], error) {
	child := reflect.TypeFor[C]()
	if !child.AssignableTo(g.accepted) {
		return nil, &aerrors.NarrowingError{Parent: g.accepted.String(), Child: child.String()}
	}
	node := g.children.GetOrCreate(subKey{t: child}, func() *groupNode {
		return newNode(child, g.groupNode, child.String(), nil)
	})
	return &Group[C]{node}, nil
}

// Extractor pulls a comparable key out of an event. Extractors are compared
// by identity, so create each one once and reuse it.
type Extractor[E any, T comparable] struct {
	name string
	fn   func(E) T
}

// NewExtractor creates a named extractor.
func NewExtractor[E any, T comparable](name string, fn func(E) T) *Extractor[E, T] {
	return &Extractor[E, T]{name: name, fn: fn}
}

// Name returns the extractor's name.
func (x *Extractor[E, T]) Name() string { return x.name }

// Extract applies the extractor to ev.
func (x *Extractor[E, T]) Extract(ev E) T { return x.fn(ev) }

// ExtractedSubGroup narrows g to events whose extracted value equals value.
func ExtractedSubGroup[E any, T comparable](g *Group[E], x *Extractor[E, T], value T) *Group[E] {
	node := g.children.GetOrCreate(extractKey{extractor: x, value: value}, func() *groupNode {
		return newNode(g.accepted, g.groupNode, fmt.Sprintf("%s=%v", x.name, value), func(ch *chain) bool {
			ev, ok := ch.event.(E)
			return ok && x.fn(ev) == value
		})
	})
	return &Group[E]{node}
}

// ProvidedSubGroup narrows g to posts that carry a provided T equal to
// value, looked up as Provided does.
func ProvidedSubGroup[E any, T comparable](g *Group[E], value T) *Group[E] {
	t := reflect.TypeFor[T]()
	node := g.children.GetOrCreate(providedKey{t: t, value: value}, func() *groupNode {
		return newNode(g.accepted, g.groupNode, fmt.Sprintf("%s=%v", t, value), func(ch *chain) bool {
			v, ok := lookupProvided[T](ch.provided)
			return ok && v == value
		})
	})
	return &Group[E]{node}
}

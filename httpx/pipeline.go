package httpx

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler serves one request. A returned error ends the connection; a
// *StatusError is answered with its code first if no header was sent.
type Handler interface {
	Serve(env *Environment) error
}

type HandlerFunc func(env *Environment) error

func (f HandlerFunc) Serve(env *Environment) error {
	return f(env)
}

// Middleware wraps the next handler of a pipeline. It is called once per
// build, not per request.
type Middleware func(next Handler) Handler

// constructor is the internal form of a registration; branch middleware
// can report why it could not be composed.
type constructor func(next Handler) (Handler, error)

// NotFound is the default terminal handler. It answers 404 unless an
// earlier stage already chose a 4xx status, which it leaves in place.
var NotFound Handler = HandlerFunc(func(env *Environment) error {
	if s := env.Response.StatusCode(); s < 400 || s >= 500 {
		env.Response.SetStatus(404)
	}
	return nil
})

type composed struct {
	h Handler
}

// Builder collects middleware registrations and composes them around a
// terminal handler. The composed handler is memoized and swapped
// atomically when registrations change, so connections already running the
// previous pipeline are unaffected.
type Builder struct {
	mu       sync.Mutex
	parent   *Builder
	terminal Handler
	ctors    []constructor
	props    *Properties
	built    atomic.Pointer[composed]
}

// NewBuilder returns a builder ending in terminal, or NotFound if nil.
func NewBuilder(terminal Handler) *Builder {
	if terminal == nil {
		terminal = NotFound
	}
	return &Builder{terminal: terminal, props: &Properties{}}
}

// Use appends m; the first registration becomes the outermost wrapper.
func (b *Builder) Use(m Middleware) *Builder {
	if m == nil {
		return b.register(nil)
	}
	return b.register(func(next Handler) (Handler, error) {
		return m(next), nil
	})
}

// Run terminates the pipeline with h; later registrations are unreachable.
func (b *Builder) Run(h HandlerFunc) *Builder {
	return b.Use(Run(h))
}

func (b *Builder) register(c constructor) *Builder {
	b.mu.Lock()
	b.ctors = append(b.ctors, c)
	b.mu.Unlock()
	b.invalidate()
	return b
}

func (b *Builder) invalidate() {
	for x := b; x != nil; x = x.parent {
		x.built.Store(nil)
	}
}

// New returns a child builder for a branch. It inherits the terminal
// handler and a copy-on-write view of the properties. Registrations on the
// child invalidate the parent's composed pipeline.
func (b *Builder) New() *Builder {
	return &Builder{parent: b, terminal: b.terminal, props: b.props.fork()}
}

// Properties is the builder-scoped property bag.
func (b *Builder) Properties() *Properties { return b.props }

// Build composes the registrations, right to left, around the terminal
// handler. A registration that cannot be composed is a configuration
// error; hosts should Build at startup.
func (b *Builder) Build() (Handler, error) {
	if c := b.built.Load(); c != nil {
		return c.h, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.built.Load(); c != nil {
		return c.h, nil
	}
	h := b.terminal
	for i := len(b.ctors) - 1; i >= 0; i-- {
		ctor := b.ctors[i]
		if ctor == nil {
			return nil, fmt.Errorf("%w: middleware #%d is nil", ErrConfiguration, i)
		}
		next, err := ctor(h)
		if err != nil {
			return nil, fmt.Errorf("%w: middleware #%d: %v", ErrConfiguration, i, err)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: middleware #%d returned no handler", ErrConfiguration, i)
		}
		h = next
	}
	b.built.Store(&composed{h: h})
	return h, nil
}

// Properties is a small key/value bag shared between a builder and its
// branches. A fork shares storage until either side writes.
type Properties struct {
	mu     sync.Mutex
	m      map[string]any
	shared bool
}

func (p *Properties) Get(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok
}

func (p *Properties) Set(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared || p.m == nil {
		m := make(map[string]any, len(p.m)+1)
		for k, x := range p.m {
			m[k] = x
		}
		p.m = m
		p.shared = false
	}
	p.m[key] = v
}

func (p *Properties) fork() *Properties {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared = true
	return &Properties{m: p.m, shared: true}
}

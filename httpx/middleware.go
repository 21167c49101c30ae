package httpx

import (
	"encoding/base64"
	"strings"
	"sync"
)

// PropAllowedMethods is the builder property holding the union of methods
// handled by MapMethod branches registered on that builder.
const PropAllowedMethods = "httpx.AllowedMethods"

// realm sent with 401 challenges.
const authRealm = "PeerCastStation"

type methodSet struct {
	mu    sync.Mutex
	owner *Builder
	list  []string
}

func newMethodSet(methods ...string) *methodSet {
	s := &methodSet{}
	s.add(methods...)
	return s
}

// add appends methods in order, upper-cased; GET brings HEAD along.
func (s *methodSet) add(methods ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		s.appendLocked(m)
		if m == "GET" {
			s.appendLocked("HEAD")
		}
	}
}

func (s *methodSet) appendLocked(m string) {
	for _, x := range s.list {
		if x == m {
			return
		}
	}
	s.list = append(s.list, m)
}

func (s *methodSet) contains(m string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.list {
		if x == m {
			return true
		}
	}
	return false
}

func (s *methodSet) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.list, ",")
}

// allowedMethods returns the builder's own method union, cloning an
// inherited one on first use.
func (b *Builder) allowedMethods() *methodSet {
	if v, ok := b.props.Get(PropAllowedMethods); ok {
		if s, ok := v.(*methodSet); ok {
			if s.owner == b {
				return s
			}
			c := newMethodSet(strings.Split(s.String(), ",")...)
			c.owner = b
			b.props.Set(PropAllowedMethods, c)
			return c
		}
	}
	s := newMethodSet()
	s.owner = b
	b.props.Set(PropAllowedMethods, s)
	return s
}

// AllowedMethods returns the comma separated union registered so far.
func (b *Builder) AllowedMethods() string {
	if v, ok := b.props.Get(PropAllowedMethods); ok {
		if s, ok := v.(*methodSet); ok {
			return s.String()
		}
	}
	return ""
}

// AllowMethods passes requests whose method is listed and answers the rest
// with 405 and an Allow header. Allowing GET also allows HEAD.
func AllowMethods(methods ...string) Middleware {
	set := newMethodSet(methods...)
	return func(next Handler) Handler {
		return HandlerFunc(func(env *Environment) error {
			if set.contains(env.Request.Method()) {
				return next.Serve(env)
			}
			env.Response.SetStatus(405)
			env.Response.SetHeader("Allow", set.String())
			return nil
		})
	}
}

// MapMethod routes requests with one of methods into an independent
// branch configured by configure. Other requests get 405 with the union of
// all methods mapped on b so far in Allow and continue down the pipeline,
// where a later branch may still accept them.
func (b *Builder) MapMethod(methods []string, configure func(*Builder)) *Builder {
	branch := b.New()
	if configure != nil {
		configure(branch)
	}
	accept := newMethodSet(methods...)
	allowed := b.allowedMethods()
	allowed.add(methods...)
	return b.register(func(next Handler) (Handler, error) {
		h, err := branch.Build()
		if err != nil {
			return nil, err
		}
		return HandlerFunc(func(env *Environment) error {
			res := env.Response
			if accept.contains(env.Request.Method()) {
				if res.StatusCode() == 405 {
					res.SetStatus(200)
					res.Header().Del("Allow")
				}
				return h.Serve(env)
			}
			res.SetStatus(405)
			res.SetHeader("Allow", allowed.String())
			return next.Serve(env)
		}), nil
	})
}

// Map routes requests whose path is prefix, or lies below it, into a
// branch configured by configure.
func (b *Builder) Map(prefix string, configure func(*Builder)) *Builder {
	branch := b.New()
	if configure != nil {
		configure(branch)
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return b.register(func(next Handler) (Handler, error) {
		h, err := branch.Build()
		if err != nil {
			return nil, err
		}
		return HandlerFunc(func(env *Environment) error {
			if matchPrefix(env.Request.Path(), prefix) {
				return h.Serve(env)
			}
			return next.Serve(env)
		}), nil
	})
}

func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Authorize gates the pipeline on an access policy. Peers not granted
// stream get 403; when the policy demands credentials they are taken from
// Basic authorization, the auth query parameter or the auth cookie, in
// that order, and a mismatch gets 401 with a Basic challenge. A nil policy
// means the policy attached to the connection.
func Authorize(stream OutputStreamType, policy AccessPolicy) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(env *Environment) error {
			p := policy
			if p == nil {
				p = env.AccessControl()
			}
			res := env.Response
			if p == nil || !p.Allows(stream) {
				res.SetStatus(403)
				return nil
			}
			if p.RequiresAuthorization() {
				user, pass, ok := requestCredentials(env.Request)
				if !ok || !p.CheckAuthorization(user, pass) {
					res.SetStatus(401)
					res.SetHeader("WWW-Authenticate", `Basic realm="`+authRealm+`"`)
					return nil
				}
			}
			return next.Serve(env)
		})
	}
}

// Run adapts a plain handler into a terminal middleware that never calls
// the next stage.
func Run(h HandlerFunc) Middleware {
	return func(Handler) Handler {
		if h == nil {
			return nil
		}
		return h
	}
}

func requestCredentials(req *Request) (user, pass string, ok bool) {
	if v := req.HeaderValue("Authorization"); v != "" {
		scheme, token, _ := strings.Cut(strings.TrimSpace(v), " ")
		if strings.EqualFold(scheme, "Basic") {
			return decodeBasic(token)
		}
	}
	if v, found := req.Query("auth"); found {
		return decodeBasic(v)
	}
	if v, found := req.Cookie("auth"); found {
		return decodeBasic(v)
	}
	return "", "", false
}

func decodeBasic(token string) (user, pass string, ok bool) {
	token = strings.TrimSpace(token)
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(raw), ":")
	return user, pass, ok
}

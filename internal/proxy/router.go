// Package proxy keeps the table mapping public path prefixes to session
// targets, including each session's sub-services.
package proxy

import (
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/nebula/internal/logging"
)

const lockStripes = 64

// SubRoute is a resolved sub-service under a route.
type SubRoute struct {
	Name          string        `json:"name"`
	Prefix        string        `json:"prefix"`
	Target        string        `json:"target"`
	Port          int           `json:"port"`
	Command       []string      `json:"command"`
	BaseURL       string        `json:"base_url"`
	AbsoluteURL   bool          `json:"absolute_url"`
	Timeout       int           `json:"timeout"`
	LauncherEntry LauncherEntry `json:"launcher_entry"`
}

// ReadyTimeout returns the sub-service readiness timeout.
func (s SubRoute) ReadyTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Route maps a public prefix to a session target. Routes are immutable
// once registered; re-registering replaces the whole value.
type Route struct {
	Prefix       string     `json:"prefix"`
	Target       string     `json:"target"`
	AbsoluteURL  bool       `json:"absolute_url"`
	SubRoutes    []SubRoute `json:"sub_routes,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Sub returns the named sub-route.
func (r *Route) Sub(name string) (SubRoute, bool) {
	for _, s := range r.SubRoutes {
		if s.Name == name {
			return s, true
		}
	}
	return SubRoute{}, false
}

// Prefixes returns the route prefix followed by its sub-route prefixes.
func (r *Route) Prefixes() []string {
	out := make([]string, 0, 1+len(r.SubRoutes))
	out = append(out, r.Prefix)
	for _, s := range r.SubRoutes {
		out = append(out, s.Prefix)
	}
	return out
}

// Match is the result of routing a request path.
type Match struct {
	Route *Route
	// Sub is the matched sub-route, or nil for the session itself.
	Sub *SubRoute
	// Target is host:port to forward to.
	Target string
	// Path is the path to forward: the full path for absolute targets,
	// otherwise the path with the matched prefix replaced by "/".
	Path string
}

type subRef struct {
	route string
	name  string
}

// Router is the route table. Lookups are lock-free; register and
// unregister serialize per prefix only.
type Router struct {
	basePort int
	logger   *logging.Logger

	routes  sync.Map // prefix -> *Route
	subs    sync.Map // sub-route prefix -> subRef
	stripes [lockStripes]sync.Mutex
}

// NewRouter creates a Router. Sub-service ports are allocated from
// basePort upward.
func NewRouter(basePort int, logger *logging.Logger) *Router {
	return &Router{
		basePort: basePort,
		logger:   logger.WithComponent("proxy"),
	}
}

func (r *Router) lock(prefix string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prefix))
	return &r.stripes[h.Sum32()%lockStripes]
}

// Register maps prefix to target, replacing any previous mapping for
// prefix in a single store. Sub-services are exposed at
// <prefix>proxy/<name>/ and receive ports in sorted name order.
func (r *Router) Register(prefix, target string, absoluteURL bool, subservices map[string]SubService) (*Route, error) {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("route prefix %q must start and end with '/'", prefix)
	}
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("route target %q: %w", target, err)
	}

	route := &Route{
		Prefix:       prefix,
		Target:       target,
		AbsoluteURL:  absoluteURL,
		RegisteredAt: time.Now(),
	}
	for i, name := range sortedNames(subservices) {
		svc := subservices[name]
		route.SubRoutes = append(route.SubRoutes, resolveSub(prefix, host, name, r.basePort+i, svc))
	}

	l := r.lock(prefix)
	l.Lock()
	defer l.Unlock()

	prev, _ := r.routes.Swap(prefix, route)
	for _, s := range route.SubRoutes {
		r.subs.Store(s.Prefix, subRef{route: prefix, name: s.Name})
	}
	if old, ok := prev.(*Route); ok {
		for _, s := range old.SubRoutes {
			if _, still := route.Sub(s.Name); !still {
				r.subs.Delete(s.Prefix)
			}
		}
	}

	r.logger.Info("route registered", "prefix", prefix, "target", target, "sub_routes", len(route.SubRoutes))
	return route, nil
}

// resolveSub substitutes placeholders in a sub-service command.
func resolveSub(routePrefix, host, name string, port int, svc SubService) SubRoute {
	prefix := routePrefix + "proxy/" + name + "/"
	baseURL := "/"
	if svc.AbsoluteURL {
		baseURL = prefix
	}

	repl := strings.NewReplacer("{port}", strconv.Itoa(port), "{baseURL}", baseURL)
	cmd := make([]string, len(svc.Command))
	for i, arg := range svc.Command {
		cmd[i] = repl.Replace(arg)
	}

	return SubRoute{
		Name:          name,
		Prefix:        prefix,
		Target:        net.JoinHostPort(host, strconv.Itoa(port)),
		Port:          port,
		Command:       cmd,
		BaseURL:       baseURL,
		AbsoluteURL:   svc.AbsoluteURL,
		Timeout:       svc.Timeout,
		LauncherEntry: svc.LauncherEntry,
	}
}

// Unregister removes prefix and its sub-routes. It reports whether a route
// was removed.
func (r *Router) Unregister(prefix string) bool {
	l := r.lock(prefix)
	l.Lock()
	defer l.Unlock()

	prev, ok := r.routes.LoadAndDelete(prefix)
	if !ok {
		return false
	}
	for _, s := range prev.(*Route).SubRoutes {
		r.subs.Delete(s.Prefix)
	}
	r.logger.Info("route unregistered", "prefix", prefix)
	return true
}

// Lookup returns the route registered at exactly prefix.
func (r *Router) Lookup(prefix string) (*Route, bool) {
	v, ok := r.routes.Load(prefix)
	if !ok {
		return nil, false
	}
	return v.(*Route), true
}

// Match finds the longest registered prefix of path, sub-routes included.
func (r *Router) Match(path string) (Match, bool) {
	if !strings.HasPrefix(path, "/") {
		return Match{}, false
	}
	for candidate := ancestor(path, true); candidate != ""; candidate = ancestor(candidate, false) {
		if v, ok := r.subs.Load(candidate); ok {
			ref := v.(subRef)
			route, ok := r.Lookup(ref.route)
			if !ok {
				continue
			}
			sub, ok := route.Sub(ref.name)
			if !ok {
				continue
			}
			return Match{
				Route:  route,
				Sub:    &sub,
				Target: sub.Target,
				Path:   forwardPath(path, sub.Prefix, sub.AbsoluteURL),
			}, true
		}
		if route, ok := r.Lookup(candidate); ok {
			return Match{
				Route:  route,
				Target: route.Target,
				Path:   forwardPath(path, route.Prefix, route.AbsoluteURL),
			}, true
		}
	}
	return Match{}, false
}

// ancestor returns the next shorter prefix ending in '/'. With self set, a
// path that already ends in '/' is returned unchanged; a path without a
// trailing slash that names a prefix exactly ("/user/alice") matches that
// prefix.
func ancestor(p string, self bool) string {
	if self {
		if strings.HasSuffix(p, "/") {
			return p
		}
		return p + "/"
	}
	if p == "/" {
		return ""
	}
	trimmed := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(trimmed, "/")
	return trimmed[:i+1]
}

func forwardPath(path, prefix string, absolute bool) string {
	if absolute {
		return path
	}
	rest := strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// Routes returns all routes ordered by prefix.
func (r *Router) Routes() []*Route {
	var out []*Route
	r.routes.Range(func(_, v any) bool {
		out = append(out, v.(*Route))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	n := 0
	r.routes.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

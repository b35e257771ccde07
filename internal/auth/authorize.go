package auth

import (
	"sort"
	"strings"
)

// Decision is the result of a route check. Redirect is set only on deny.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

type routeRule struct {
	prefix string
	roles  map[Role]struct{}
}

// routeRules is built once and sorted longest prefix first; it is never mutated.
var routeRules = buildRouteRules(map[string][]Role{
	"/roles":             {RoleAdmin},
	"/users":             {RoleAdmin, RoleOps, RoleDPA},
	"/dashboard":         ShoreRoles(),
	"/vessels":           ShoreRoles(),
	"/settings":          ShoreRoles(),
	"/purchase-orders":   ShoreRoles(),
	"/crew":              ShoreRoles(),
	"/documents":         ShoreRoles(),
	"/purchase-requests": AllRoles(),
	"/help":              AllRoles(),
	"/documentscso":      AllRoles(),
	"/logout":            AllRoles(),
})

func buildRouteRules(m map[string][]Role) []routeRule {
	rules := make([]routeRule, 0, len(m))
	for prefix, roles := range m {
		set := make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		rules = append(rules, routeRule{prefix: prefix, roles: set})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].prefix) != len(rules[j].prefix) {
			return len(rules[i].prefix) > len(rules[j].prefix)
		}
		return rules[i].prefix < rules[j].prefix
	})
	return rules
}

// Authorize decides whether role may open route. Unlisted routes are allowed;
// a denial carries the role's default landing route.
func Authorize(role Role, route string) Decision {
	rule, ok := matchRoute(normalizeRoute(route))
	if !ok {
		return Decision{Allowed: true}
	}
	if _, allowed := rule.roles[role]; allowed {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Redirect: DefaultRoute(role)}
}

// AllowedRoles returns the roles allowed on route, or nil when the route is unrestricted.
func AllowedRoles(route string) []Role {
	rule, ok := matchRoute(normalizeRoute(route))
	if !ok {
		return nil
	}
	out := make([]Role, 0, len(rule.roles))
	for _, r := range AllRoles() {
		if _, ok := rule.roles[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func matchRoute(route string) (routeRule, bool) {
	for _, rule := range routeRules {
		if route == rule.prefix || strings.HasPrefix(route, rule.prefix+"/") {
			return rule, true
		}
	}
	return routeRule{}, false
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	return strings.ToLower(route)
}

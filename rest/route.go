// Package rest implements the HTTPEngine: request construction, retry and
// backoff, and the glue between a Route and the ratelimit package's
// per-route-key bucket admission.
package rest

import (
	"fmt"
	"strings"

	"github.com/dgcore/discord/ratelimit"
)

// majorParams are the path parameters that partition a rate-limit bucket
// even within the same route template.
var majorParams = map[string]struct{}{
	"channel_id":    {},
	"guild_id":      {},
	"webhook_id":    {},
	"webhook_token": {},
}

// Route identifies an API endpoint relative to rate limiting: an HTTP
// method, a path template with named placeholders (e.g.
// "/channels/{channel_id}/messages"), and the parameter values that fill
// it in for one call.
type Route struct {
	Method   string
	Template string
	Params   map[string]string
}

// NewRoute builds a Route for one call; params are substituted into
// Template wherever "{name}" appears.
func NewRoute(method, template string, params map[string]string) Route {
	return Route{Method: method, Template: template, Params: params}
}

// Path substitutes Params into Template, producing the concrete request
// path.
func (r Route) Path() string {
	path := r.Template
	for name, value := range r.Params {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	return path
}

// BucketKey derives the client-side rate limit identity: method, template,
// and only the major parameters, so two calls differing only in a
// non-major parameter (e.g. message_id) still share a bucket key.
func (r Route) BucketKey() ratelimit.RouteKey {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Template)

	for _, name := range orderedMajorParamNames(r.Params) {
		fmt.Fprintf(&b, ";%s=%s", name, r.Params[name])
	}

	return ratelimit.RouteKey(b.String())
}

func orderedMajorParamNames(params map[string]string) []string {
	// channel_id, guild_id, webhook_id, webhook_token: stable order so
	// the same route always derives the same key regardless of map
	// iteration order.
	order := []string{"channel_id", "guild_id", "webhook_id", "webhook_token"}
	names := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := params[name]; ok {
			if _, major := majorParams[name]; major {
				names = append(names, name)
			}
		}
	}
	return names
}

/*
Package binding stores kbus bindings and routes message names to them.

A binding is a (pattern, endpoint, role) triple. Listener bindings receive
a copy of every message whose name they match; replier bindings compete,
and at most one of them is elected to answer a given Request. The broker
owns one Table and asks it for a Resolution on every send.

# Patterns

A pattern is a message name, optionally ending in a wildcard component:

	$.Sensors.Temp      exactly $.Sensors.Temp
	$.Sensors.*         $.Sensors itself and every name below it
	$.Sensors.%         exactly one component below $.Sensors

	name                  $.Sensors.*   $.Sensors.%   $.Sensors.Temp
	$.Sensors                  yes           no             no
	$.Sensors.Temp             yes           yes            yes
	$.Sensors.Temp.Max         yes           no             no

Patterns are validated with message.ValidatePattern against the table's
maximum name length.

# Replier Election

Several replier bindings may match one name. The most specific wins:

 1. An exact pattern beats any wildcard
 2. Between wildcards, the longer prefix wins
 3. With equal prefixes, "%" beats "*"

	bound repliers:  $.*   $.Sensors.*   $.Sensors.%   $.Sensors.Temp
	$.Sensors.Temp   ──▶ $.Sensors.Temp
	$.Sensors.Hum    ──▶ $.Sensors.%
	$.Sensors.A.B    ──▶ $.Sensors.*
	$.Other          ──▶ $.*

Only one endpoint may be replier for a given pattern; a second replier
Bind fails with errdefs.ErrAddressInUse. Listener bindings may repeat, even
for the same endpoint and pattern, and each one yields its own copy.

# Usage

	t := binding.NewTable(0)
	_ = t.Bind(1, "$.Sensors.*", binding.RoleListener)
	_ = t.Bind(2, "$.Sensors.%", binding.RoleReplier)

	res := t.Resolve("$.Sensors.Temp")
	// res.Replier.Endpoint == 2
	// res.Listeners == [{$.Sensors.* 1 false}]

	_, err := t.Unbind(2, "$.Sensors.%", binding.RoleReplier)

Unbind removes exactly one binding, the most recent match. RoleAny lets a
caller unbind without naming the role, and fails with
errdefs.ErrAmbiguousUnbind if the endpoint holds the pattern in both
roles. RemoveEndpoint drops everything an endpoint owns when it closes.

# Ordering

Listeners come back in bind order, and List returns every binding in bind
order. The broker relies on this for deterministic delivery order and for
the /bindings admin view.

# Concurrency

Table is safe for concurrent use. A read lock covers Resolve, ReplierFor,
List and Counts; Bind, Unbind and RemoveEndpoint take the write lock, so
a Resolve never sees a half-applied change. The broker also serializes
changes under its own lock so that routing and request tracking agree.

# Performance Characteristics

Resolve is a linear scan over all bindings. That is fine for the hundreds
of bindings a single host bus carries; a trie keyed on name components
would only pay off at much larger tables.
*/
package binding

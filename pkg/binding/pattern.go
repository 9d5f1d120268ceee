package binding

import (
	"strings"

	"github.com/cuemby/kbus/pkg/message"
)

// pattern is a parsed binding pattern: a literal prefix and an optional
// trailing wildcard.
type pattern struct {
	prefix   string
	wildcard string
}

func parsePattern(p string) pattern {
	switch {
	case strings.HasSuffix(p, "."+message.WildcardAny):
		return pattern{prefix: strings.TrimSuffix(p, "."+message.WildcardAny), wildcard: message.WildcardAny}
	case strings.HasSuffix(p, "."+message.WildcardOne):
		return pattern{prefix: strings.TrimSuffix(p, "."+message.WildcardOne), wildcard: message.WildcardOne}
	default:
		return pattern{prefix: p}
	}
}

func (p pattern) exact() bool {
	return p.wildcard == ""
}

// matches reports whether the pattern covers name. "*" matches the prefix
// itself or anything below it; "%" matches exactly one component below it.
func (p pattern) matches(name string) bool {
	switch p.wildcard {
	case "":
		return name == p.prefix
	case message.WildcardAny:
		return name == p.prefix || strings.HasPrefix(name, p.prefix+".")
	default:
		if !strings.HasPrefix(name, p.prefix+".") {
			return false
		}
		return !strings.Contains(name[len(p.prefix)+1:], ".")
	}
}

// moreSpecific reports whether p should win replier election over q when
// both match the same name.
func (p pattern) moreSpecific(q pattern) bool {
	if p.exact() != q.exact() {
		return p.exact()
	}
	if len(p.prefix) != len(q.prefix) {
		return len(p.prefix) > len(q.prefix)
	}
	return p.wildcard == message.WildcardOne && q.wildcard == message.WildcardAny
}

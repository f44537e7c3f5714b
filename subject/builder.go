package subject

import "strings"

// TopicSubject composes the canonical wire subject env.app.topic, with
// topic normalized: lower-cased, and every character outside
// [a-z0-9_.>*-] replaced with "_". Dots and wildcards are preserved so
// callers may pass multi-token topics or patterns.
func TopicSubject(env, app, topic string) string {
	return env + "." + app + "." + Normalize(topic)
}

// Normalize lower-cases topic and replaces every character outside
// [a-z0-9_.>*-] with "_".
func Normalize(topic string) string {
	lower := strings.ToLower(topic)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if isAllowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '>' || r == '*' || r == '-':
		return true
	default:
		return false
	}
}

// Parsed is the decomposition of a wire subject into env.app.topic.
type Parsed struct {
	Env   string
	App   string
	Topic string
}

// ParseTopic decomposes a wire subject of the form env.app.topic. It
// returns ok=false if the subject has fewer than three dot-delimited
// tokens (no env/app prefix to strip).
func ParseTopic(wireSubject string) (Parsed, bool) {
	tokens := strings.SplitN(wireSubject, ".", 3)
	if len(tokens) != 3 {
		return Parsed{}, false
	}
	return Parsed{Env: tokens[0], App: tokens[1], Topic: tokens[2]}, true
}

// ParseLegacy decomposes a legacy subject of the form
// env.events.domain.resource.action (or env.app.domain.resource.action)
// back into its four event components. It returns ok=false unless
// exactly five dot-delimited tokens are present.
func ParseLegacy(wireSubject string) (env, domain, resource, action string, ok bool) {
	tokens := strings.Split(wireSubject, ".")
	if len(tokens) != 5 {
		return "", "", "", "", false
	}
	return tokens[0], tokens[2], tokens[3], tokens[4], true
}

// LegacySubject composes the legacy env.events.domain.resource.action
// wire subject (or env.app.domain.resource.action when app is used in
// place of the literal "events" segment).
func LegacySubject(env, appOrEvents, domain, resource, action string) string {
	return strings.Join([]string{env, appOrEvents, domain, resource, action}, ".")
}

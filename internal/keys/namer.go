package keys

import "strings"

// Class identifies which kind of record a store key holds.
type Class string

const (
	// ClassLocked marks lock records.
	ClassLocked Class = "LOCKED"
	// ClassLimiter marks sliding-window records.
	ClassLimiter Class = "LIMITER"
	// ClassRedlock marks the advisory mutex section guarding a limiter key.
	ClassRedlock Class = "REDLOCK"
)

// Namer derives store keys of the form {namespace}_{class}_{logicalKey}.
type Namer struct {
	namespace string
}

// NewNamer returns a Namer scoped to namespace.
func NewNamer(namespace string) Namer {
	return Namer{namespace: namespace}
}

// Namespace returns the namespace the Namer was built with.
func (n Namer) Namespace() string {
	return n.namespace
}

// Key returns the store key for logicalKey in class. Key("", class) is the
// common prefix of every key in class.
func (n Namer) Key(logicalKey string, class Class) string {
	var b strings.Builder
	b.Grow(len(n.namespace) + len(class) + len(logicalKey) + 2)
	b.WriteString(n.namespace)
	b.WriteByte('_')
	b.WriteString(string(class))
	b.WriteByte('_')
	b.WriteString(logicalKey)
	return b.String()
}

// Prefix returns the prefix shared by all keys of class.
func (n Namer) Prefix(class Class) string {
	return n.Key("", class)
}

// Logical strips the class prefix from storeKey. The boolean is false when
// storeKey does not belong to class.
func (n Namer) Logical(storeKey string, class Class) (string, bool) {
	return strings.CutPrefix(storeKey, n.Prefix(class))
}

// Keys maps logicalKeys to store keys in class, dropping duplicates while
// preserving first-seen order.
func (n Namer) Keys(logicalKeys []string, class Class) []string {
	seen := make(map[string]struct{}, len(logicalKeys))
	out := make([]string, 0, len(logicalKeys))
	for _, k := range logicalKeys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n.Key(k, class))
	}
	return out
}

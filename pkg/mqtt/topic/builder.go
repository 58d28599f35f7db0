package topic

import (
	"strings"
)

// Builder constructs topic strings under a fixed root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g., "otabridge/v1", "zigbee2mqtt").
	root string

	// shareGroup, when set, prefixes wildcard subscriptions with "$share/{group}/".
	shareGroup string
}

// NewBuilder creates a new instance of Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

// Root returns the root namespace.
func (b *Builder) Root() string {
	return b.root
}

// Shared returns a copy of b whose wildcard topics use a shared subscription group.
func (b *Builder) Shared(group string) *Builder {
	return &Builder{root: b.root, shareGroup: group}
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return b.Join(segment, id)
}

// BuildWildcard returns {root}/{segment}/+, prefixed when the builder is shared.
func (b *Builder) BuildWildcard(segment string) string {
	t := b.Join(segment, Wildcard)
	if b.shareGroup != "" {
		return SharePrefix + b.shareGroup + "/" + t
	}
	return t
}

// Join appends the given levels to the root.
func (b *Builder) Join(levels ...string) string {
	parts := make([]string, 0, len(levels)+1)
	if b.root != "" {
		parts = append(parts, b.root)
	}
	for _, l := range levels {
		if l = strings.Trim(l, "/"); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// Trim returns the remainder of topic below the root, and false if topic is outside it.
func (b *Builder) Trim(topic string) (string, bool) {
	if b.root == "" {
		return topic, true
	}
	rest, ok := strings.CutPrefix(topic, b.root+"/")
	return rest, ok
}

// LastLevel returns the final level of a topic.
func LastLevel(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}

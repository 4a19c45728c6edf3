package audit

// Builder assembles a Store from the current state of a scan. The
// orchestrator holds one Builder and calls Build each time AuditStore is
// requested "fresh"; Build never mutates its inputs.
type Builder struct {
	Version  string
	Revision string
}

// NewBuilder creates a Builder stamped with the running binary's version
// and revision, both reported verbatim in every Store it builds.
func NewBuilder(version, revision string) *Builder {
	return &Builder{Version: version, Revision: revision}
}

// Build freezes opts, sitemap, issues and pluginResults into an immutable
// Store. issues and sitemap are deep-copied so later mutation of the
// orchestrator's live state cannot be observed through a previously built
// Store.
func (b *Builder) Build(opts map[string]any, sitemap []string, issues []Issue, pluginResults map[string]any) *Store {
	return &Store{
		Version:       b.Version,
		Revision:      b.Revision,
		Options:       opts,
		Sitemap:       cloneStrings(sitemap),
		Issues:        cloneIssues(issues),
		PluginResults: clonePluginResults(pluginResults),
	}
}

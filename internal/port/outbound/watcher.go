package outbound

// ChangeType classifies a watched-file change event.
type ChangeType int

const (
	// Create indicates a new file appeared under a watched path.
	Create ChangeType = iota
	// Modify indicates a watched file's content changed.
	Modify
	// Remove indicates a watched file was deleted or renamed away.
	Remove
	// VersionUpdate indicates a version manifest changed.
	VersionUpdate
	// DependencyChange indicates a dependency manifest or lockfile changed.
	DependencyChange
)

// String returns the string representation of the ChangeType.
func (t ChangeType) String() string {
	switch t {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Remove:
		return "remove"
	case VersionUpdate:
		return "version_update"
	case DependencyChange:
		return "dependency_change"
	default:
		return "unknown"
	}
}

// ChangeEvent is one observed change on a watched path.
type ChangeEvent struct {
	Path string
	Type ChangeType
}

// ChangeSource is the outbound port for watching source files. It emits a
// lazy, unbounded stream of change events for the union of configured paths,
// filtered of vendor-directory noise.
type ChangeSource interface {
	// Events returns the event stream. The channel is closed when the
	// source is closed or its underlying watcher fails.
	Events() <-chan ChangeEvent

	// Close cancels the stream and releases watch resources.
	Close() error
}

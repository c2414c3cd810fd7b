package flowid

// Generator interface should be implemented by types that can generate
// request tracing Flow IDs.
type Generator interface {
	// Generate returns a new Flow ID using the implementation specific
	// format or an error in case of failure.
	Generate() (string, error)
	// MustGenerate behaves like Generate but panics on failure instead
	// of returning an error.
	MustGenerate() string
	// IsValid checks if the given flowId follows the format of this
	// generator.
	IsValid(string) bool
}

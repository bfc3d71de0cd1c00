package index

// TagIndex defines the interface for vault index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type TagIndex interface {
	UpsertDocument(d DocRow, tags []string) error
	DeleteDocument(path string) error
	PathsWithTag(tag string) ([]string, error)
	ListPaths() ([]string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies TagIndex at compile time.
var _ TagIndex = (*DB)(nil)

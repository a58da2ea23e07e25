package store

// Store - the local key-value store the session context persists through.
// Values survive process restarts but carry no cross-device durability
// expectations.
type Store interface {
	// Get - returns the value and whether the key was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Remove - deletes the key; absent keys are not an error.
	Remove(key string) error
	Close() error
}

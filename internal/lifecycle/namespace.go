package lifecycle

// Namespace identifies the isolation boundary for one embedded database:
// a user id, or the anonymous sentinel (the zero value).
type Namespace string

// Anonymous is the namespace used before any login.
const Anonymous Namespace = ""

// anonymousKey is the fixed storage key for the anonymous namespace.
const anonymousKey = "anonymous"

// IsAnonymous reports whether ns is the anonymous sentinel.
func (ns Namespace) IsAnonymous() bool {
	return ns == Anonymous
}

// Key derives the durable-storage key for ns.
func (ns Namespace) Key() string {
	if ns.IsAnonymous() {
		return anonymousKey
	}
	return "user-" + string(ns)
}

// String returns a loggable name.
func (ns Namespace) String() string {
	if ns.IsAnonymous() {
		return anonymousKey
	}
	return string(ns)
}

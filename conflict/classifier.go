package conflict

import (
	"strings"
	"time"
)

// staleThreshold is how far behind the server a local timestamp must be
// before a conflict with no more specific reason classifies as stale data
// rather than a plain concurrent modification.
const staleThreshold = 5 * time.Minute

// reasonKeywords maps substrings the server's conflict reason may contain to
// a Class, checked in order so a more specific keyword (e.g. "schema") wins
// over a generic one (e.g. "version").
var reasonKeywords = []struct {
	keyword string
	class   Class
}{
	{"schema", ClassSchemaIncompatible},
	{"lock", ClassResourceLocked},
	{"permission", ClassPermissionDenied},
	{"forbidden", ClassPermissionDenied},
	{"depend", ClassMissingDependency},
	{"validation", ClassValidationError},
	{"invalid", ClassValidationError},
	{"version", ClassVersionMismatch},
	{"etag", ClassVersionMismatch},
}

// Classify determines a Conflict's Class from its server-supplied reason
// string and the skew between local and server timestamps. Reason matching
// takes priority; when the reason carries no recognised keyword, a local
// timestamp older than staleThreshold relative to the server's classifies as
// stale data, otherwise the conflict is a plain concurrent modification.
func Classify(c Conflict) Class {
	reason := strings.ToLower(c.Reason)
	for _, kw := range reasonKeywords {
		if strings.Contains(reason, kw.keyword) {
			return kw.class
		}
	}
	if !c.LocalTimestamp.IsZero() && !c.ServerTimestamp.IsZero() &&
		c.ServerTimestamp.Sub(c.LocalTimestamp) > staleThreshold {
		return ClassStaleData
	}
	return ClassConcurrentModification
}

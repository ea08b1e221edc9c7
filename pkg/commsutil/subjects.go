package commsutil

import (
	"fmt"
	"strings"
)

// Default bridge subjects. The rpc subject carries request/reply traffic, the
// log subject carries fire-and-forget client log lines and the event subject
// carries host-to-renderer notifications.
const (
	SubjectRPC    = "app.rpc"
	SubjectLog    = "app.log"
	SubjectEvents = "app.events"
)

// BuildEventSubject builds the subject a single event action is published on.
func BuildEventSubject(base, action string) string {
	return fmt.Sprintf("%s.%s", base, sanitizeToken(action))
}

// BuildServiceSubject scopes a base subject to one service instance so several
// hosts can share a broker.
func BuildServiceSubject(service, base string) string {
	if service == "" {
		return base
	}
	return fmt.Sprintf("%s.%s", sanitizeToken(service), base)
}

// EventWildcard matches every action published under base.
func EventWildcard(base string) string {
	return base + ".>"
}

func sanitizeToken(s string) string {
	return strings.NewReplacer(" ", "_", "*", "_", ">", "_").Replace(s)
}

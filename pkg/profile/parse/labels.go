package parse

import "strings"

const (
	// AnonymousLabel replaces call targets that have no user-visible name
	// at the call site: closures invoked in place, namespace-qualified
	// calls and container-member accessor calls.
	AnonymousLabel = "<Anonymous>"

	// MemoryLabel is the pseudo-frame label recorded while the garbage
	// collector runs.
	MemoryLabel = "<GC>"
)

// operatorLabels are the primitive subscript and assignment operations that
// have no user-visible call boundary. Ordered longest first so override
// detection strips the longest matching prefix.
var operatorLabels = []string{
	"[[<-", "[<-", "$<-", "@<-", "<<-", "[[", "<-", "[", "$", "@", "=",
}

// resolveLabel applies the frame labeling policy to a raw call string.
// It returns the label to aggregate under and whether the frame must be
// dropped from the stack entirely.
func resolveLabel(call string) (label string, drop bool) {
	for _, op := range operatorLabels {
		if call == op {
			// A bare primitive operation, invisible to the user.
			return "", true
		}
		// A dispatched override such as "[.data.frame" is a real
		// user-visible function and keeps its full name.
		if strings.HasPrefix(call, op+".") && len(call) > len(op)+1 {
			return call, false
		}
	}

	switch {
	case call == "", call == AnonymousLabel:
		return AnonymousLabel, false
	case strings.Contains(call, "::"):
		// Namespace-qualified target: the callee value is unnamed at
		// the call site.
		return AnonymousLabel, false
	case strings.ContainsAny(call, "$[@"):
		// Member-accessor target such as x$f or handlers[[i]].
		return AnonymousLabel, false
	}

	return call, false
}

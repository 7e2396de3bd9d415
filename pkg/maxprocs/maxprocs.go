package maxprocs

import (
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
)

// Adjust caps GOMAXPROCS to the container CPU quota. Failing to do so is
// not fatal, the runtime default still works.
func Adjust() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}
}

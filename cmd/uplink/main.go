// cmd/uplink/main.go
// Entrypoint for the `uplink` multi-tool CLI binary.  The file is
// intentionally tiny: it delegates all logic to the root command defined in
// root.go.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

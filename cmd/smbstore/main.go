// Command smbstore inspects an SMB share through the smbstore adapter.
//
// Mount parameters come from flags, SMBSTORE_* environment variables or a
// YAML config file, in that order of precedence:
//
//	SMBSTORE_PASSWORD=secret smbstore --host srv --user alice --share docs stat reports/q1.pdf
//	smbstore --config mount.yaml changed reports --since 2024-01-01T00:00:00Z
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

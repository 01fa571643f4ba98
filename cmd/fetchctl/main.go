// Command fetchctl inspects the source catalog, fetches single sources
// through the same coordinator the relay uses, and checks normalizers
// against captured payloads offline.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

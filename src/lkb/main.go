// lkb downloads, builds and installs Linux kernels from kernel.org sources
// and manages the kernels installed in /boot.
package main

import (
	"os"

	"github.com/bitswalk/lkb/src/lkb/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

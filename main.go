// The main package for the importscout executable.
package main

import (
	"github.com/JakeFAU/importscout/cmd"
)

func main() {
	cmd.Execute()
}

// The main package for the creator-suite executable.
package main

import (
	"github.com/JakeFAU/creator-suite/cmd"
)

func main() {
	cmd.Execute()
}

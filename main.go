// The main package for the github-crawler executable.
package main

import (
	"github.com/JakeFAU/github-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

// The main package for the pdrbot executable.
package main

import (
	"github.com/markwbennett/PDRbot/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}

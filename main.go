// The main package for the harvester executable.
package main

import (
	"github.com/docuflow/harvester/cmd"
)

func main() {
	cmd.Execute()
}

// Command exchanged runs the camp points-and-equity exchange daemon.
package main

import (
	"github.com/camppoints/exchanged/internal/cli"
)

func main() {
	cli.Execute()
}

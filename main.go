package main

import (
	"github.com/starcss/starcss/cmd"
)

var version = "v0.3.1"

func main() {
	cmd.Execute(version)
}

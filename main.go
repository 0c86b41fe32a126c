package main

import (
	"BridgeFM/cmd"
)

func main() {
	cmd.Execute()
}

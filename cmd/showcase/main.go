package main

import "github.com/jmcleod/showcase/cmd/showcase/cmd"

func main() {
	cmd.Execute()
}

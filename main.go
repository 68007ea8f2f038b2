package main

import "github.com/metal-toolbox/nbsync/cmd"

func main() {
	cmd.Execute()
}

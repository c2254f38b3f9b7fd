package main

import "github.com/nodelift/flux/cmd/fluxdemo/cmd"

func main() {
	cmd.Execute()
}

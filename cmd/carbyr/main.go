package main

import "github.com/gellingson/carbyr/cmd/carbyr/cmd"

func main() {
	cmd.Execute()
}

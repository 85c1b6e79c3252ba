package main

import "github.com/a13labs/hlstracker/cmd/hlstrackctl/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/a13labs/hlstracker/cmd/hlstrackerd/cmd"

func main() {
	cmd.Execute()
}

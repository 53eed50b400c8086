package main

import "github.com/example/courtres/cmd"

func main() {
	cmd.Execute()
}

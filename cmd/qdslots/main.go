package main

import "github.com/example/quickdrop-slots/cmd"

func main() {
	cmd.Execute()
}

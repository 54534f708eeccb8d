package main

import "github.com/audiolibrelab/jamstudio/cmd"

func main() {
	cmd.Execute()
}

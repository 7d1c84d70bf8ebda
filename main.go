package main

import "github.com/audiolibrelab/sensorcapture/cmd"

func main() {
	cmd.Execute()
}

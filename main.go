package main

import "github.com/audiolibrelab/recbridge/cmd"

func main() {
	cmd.Execute()
}

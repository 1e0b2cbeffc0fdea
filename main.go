package main

import "chroma-key/cmd"

func main() {
	cmd.Execute()
}

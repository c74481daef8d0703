package main

import "sandprobe/cmd/cli/command"

func main() {
	command.Execute()
}

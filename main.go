package main

import "cyclekit/internal/cli"

func main() {
	cli.Execute()
}

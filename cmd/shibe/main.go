package main

import "shibe/internal/cli"

func main() {
	cli.Execute()
}

package main

import "evidence/internal/cli"

func main() {
	cli.Execute()
}

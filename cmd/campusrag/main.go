package main

import "campusrag/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vietddude/nicguard/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vietddude/cryptopipe/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/openfinsec/kestrel/internal/cli"

func main() {
	cli.Execute()
}

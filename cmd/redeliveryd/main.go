package main

import "github.com/illmade-knight/go-redelivery/internal/cli"

func main() {
	cli.Execute()
}

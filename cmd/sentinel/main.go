package main

import "github.com/proyecto-sentinel/sentinel/internal/cli"

func main() {
	cli.Execute()
}

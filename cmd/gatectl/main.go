// Package main is the entry point for gatectl.
package main

import "github.com/mcoot/logingate/internal/cli"

func main() {
	cli.Execute()
}

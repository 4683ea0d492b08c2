package main

import (
	cmd "github.com/ghostcrawl/ghostcrawl/internal/cli"
)

func main() {
	cmd.Execute()
}

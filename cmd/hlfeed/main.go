package main

import "github.com/forPelevin/hlfeed/internal/cli"

func main() {
	cli.Main()
}

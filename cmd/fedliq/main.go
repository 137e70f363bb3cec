package main

import "fed-liquidity/internal/cli"

func main() {
	cli.Execute()
}

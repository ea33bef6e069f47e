package main

import "amm-quote-engine/internal/cli"

func main() {
	cli.Execute()
}

package main

import (
	"floor-price-bot/internal/cli"
)

func main() {
	cli.Execute()
}

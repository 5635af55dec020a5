package main

import "github.com/cryptotrader/trading-service/cmd"

func main() {
	cmd.Execute()
}

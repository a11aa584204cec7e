package main

import "github.com/interledger/ilp-settlement-iroha/internal/cli"

func main() {
	cli.Execute()
}

package main

import "tokenbank/cmd/custodyctl/cmd"

func main() {
	cmd.Execute()
}

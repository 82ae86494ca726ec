package main

import "github.com/materials-commons/mcdrop/cmd/mcdropd/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/materials-commons/mcdrop/cmd/mcdrop/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/deploymenttheory/go-mdraid/cmd"

func main() {
	cmd.Execute()
}

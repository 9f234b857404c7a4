package main

import "github.com/colmask/colmask/cmd"

func main() {
	cmd.Execute()
}

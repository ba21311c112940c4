package main

import "github.com/larkgate/larkgate/cmd"

func main() {
	cmd.Execute()
}

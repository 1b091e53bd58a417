package main

import "github.com/posix4e/sccache/cmd"

func main() {
	cmd.Execute()
}

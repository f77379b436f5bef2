package main

import "fortistash/cmd"

func main() {
	cmd.Execute()
}

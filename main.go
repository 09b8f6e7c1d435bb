package main

import "portfolio-agent/cmd"

func main() {
	cmd.Execute()
}

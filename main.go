package main

import "bothive/cmd"

func main() {
	cmd.Execute()
}

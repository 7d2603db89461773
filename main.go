package main

import "newspipe/cmd"

func main() {
	cmd.Execute()
}

package main

import "radiotiker/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/cooodecat/otto-handler/cmd/root"

func main() {
	root.Execute()
}

package main

import (
	"os"

	"github.com/tanq16/shabi/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

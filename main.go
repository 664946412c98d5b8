package main

import (
	"github.com/mbiome/expcollect/cmd"
)

func main() {
	cmd.Execute()
}

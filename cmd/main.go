package main

import (
	"github.com/mengelbart/vstream/cmdmain"
	_ "github.com/mengelbart/vstream/subcmd"
)

func main() {
	cmdmain.Main()
}

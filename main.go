package main

import (
	"github.com/amigotalk/meshcall/cmd"
)

func main() {
	cmd.Execute()
}

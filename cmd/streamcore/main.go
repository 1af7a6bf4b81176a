package main

import "github.com/javi11/usenetstream/cmd/streamcore/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/naka-gawa/template-stats/cmd"

func main() {
	cmd.Execute()
}

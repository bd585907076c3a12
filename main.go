package main

import "github.com/kinopsis/agensalud-mvp-sub003/cmd"

func main() {
	cmd.Execute()
}

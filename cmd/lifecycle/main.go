package main

import "github.com/jrsteele09/go-auth-lifecycle/cmd/lifecycle/cmd"

func main() {
	cmd.Execute()
}

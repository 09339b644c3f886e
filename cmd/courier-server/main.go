package main

import "github.com/oshokin/plugin-courier/cmd/courier-server/cmd"

func main() {
	cmd.Execute()
}

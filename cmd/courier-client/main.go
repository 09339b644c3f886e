package main

import "github.com/oshokin/plugin-courier/cmd/courier-client/cmd"

func main() {
	cmd.Execute()
}

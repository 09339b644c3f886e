package main

import "github.com/oshokin/plugin-courier/cmd/courier-packager/cmd"

func main() {
	cmd.Execute()
}

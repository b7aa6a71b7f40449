package main

import "gopiv/cmd/pivctl"

func main() {
	pivctl.Execute()
}

package main

import "github.com/CosmoTheDev/zapmcp/cmd"

func main() {
	cmd.Execute()
}

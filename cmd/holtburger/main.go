// Holtburger headless client for the Asheron's Call wire protocol.
package main

import "github.com/merklejerk/holtburger/cmd/holtburger/commands"

func main() {
	commands.Execute()
}

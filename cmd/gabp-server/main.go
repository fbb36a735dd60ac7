// Command gabp-server runs a Game Agent Bridge Protocol server: a
// loopback TCP process that a game or mod host embeds to expose tools
// and events to an external agent process.
package main

import "github.com/pardeike/gabp-server/cmd/gabp-server/cmd"

func main() {
	cmd.Execute()
}

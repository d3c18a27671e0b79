// meshnode runs a LoRa store-and-forward mesh node, the shared ether that
// simulates the air between nodes, or a WebRTC bridge joining two ethers.
package main

import "github.com/1ureka/loramesh/cmd/meshnode/commands"

func main() {
	commands.Execute()
}

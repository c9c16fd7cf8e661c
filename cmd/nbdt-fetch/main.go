// Command nbdt-fetch demonstrates opening, reading, and verifying a remote
// dataset through the Merkle-verified transport.
package main

import "github.com/nosqlbench/nbdatatools-sub006/cli"

func main() {
	cli.Execute()
}

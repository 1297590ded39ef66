package main

import "github.com/arjuncodes/peerctl/cmd"

func main() {
	cmd.Execute()
}

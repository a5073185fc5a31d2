package main

import "github.com/wealthwise/sessionguard/cmd/sessionguard/cmd"

func main() {
	cmd.Execute()
}

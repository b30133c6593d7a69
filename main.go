package main

import "github.com/mihaisavezi/ai-gateway/cmd"

func main() {
	cmd.Execute()
}

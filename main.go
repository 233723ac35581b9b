package main

import "github.com/vibast-solutions/ms-go-stats-gateway/cmd"

func main() {
	cmd.Execute()
}

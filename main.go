package main

import "github.com/savagescraper/savage/cmd"

func main() {
	cmd.Execute()
}

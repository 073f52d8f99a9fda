package main

import "github.com/AnaaaKareem/devsecops-pipeline/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/surge-downloader/surgemirror/cmd"

func main() {
	cmd.Execute()
}

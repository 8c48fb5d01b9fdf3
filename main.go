package main

import "github.com/surge-downloader/fetchd/cmd"

func main() {
	cmd.Execute()
}

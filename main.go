package main

import "github.com/ghyeongl/azlassets/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/MeKo-Tech/tilescene/internal/cmd"

func main() {
	cmd.Execute()
}

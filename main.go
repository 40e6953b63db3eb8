package main

import "github.com/nextlevelbuilder/weclaw/cmd"

func main() {
	cmd.Execute()
}

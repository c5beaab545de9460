package main

import "github.com/ValentinKolb/ugKV/cmd"

func main() {
	cmd.Execute()
}

package main

import (
	_ "time/tzdata" // embed IANA timezone database for containers without tzdata

	"github.com/nextlevelbuilder/candleclock/internal/cli"
)

func main() {
	cli.Execute()
}

package main

import (
	"github.com/robotalks/minghe.go/pkg/cli/sh"
	"github.com/robotalks/minghe.go/pkg/minghe"

	_ "github.com/robotalks/minghe.go/pkg/cli/cmds/converter"
)

//go-build: CGO_ENABLED=0

func init() {
	minghe.SetupFlags()
}

func main() {
	sh.Main()
}

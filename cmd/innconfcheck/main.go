// Command innconfcheck validates an inn.conf-style file against a
// fixed schema, strictly (unknown keys are errors), grounded on
// brimstore-valuesstore/main.go's go-flags positional-argument CLI
// shape.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/InterNetNews/inncore/config"
)

type optsStruct struct {
	Positional struct {
		File string `description:"path to the config file to check"`
	} `positional-args:"yes" required:"yes"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

var schema = []config.Field{
	{Key: "server", Required: true, Kind: config.KindString},
	{Key: "pathhost", Required: false, Kind: config.KindString},
	{Key: "port", Required: false, Kind: config.KindInt},
	{Key: "overcachesize", Required: false, Kind: config.KindInt},
	{Key: "readerswhenstopped", Required: false, Kind: config.KindBool},
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	root, err := config.ParseFile(opts.Positional.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	violations := config.Validate(root, schema, true)
	if len(violations) == 0 {
		fmt.Println("OK")
		return
	}
	for _, v := range violations {
		fmt.Fprintln(os.Stderr, v)
	}
	os.Exit(1)
}

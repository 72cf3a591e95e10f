// Command spreadtap extracts tabular files from object stores, HTTP and the
// local filesystem and writes them to stdout as Singer messages.
//
// Singer-style invocation is supported on the root command:
//
//	spreadtap --config config.json --discover > catalog.json
//	spreadtap --config config.json --catalog catalog.json --state state.json
package main

import (
	"os"

	// Link every source and state backend; the config picks which to use.
	_ "spreadtap/internal/source/all"
	_ "spreadtap/internal/storage/all"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

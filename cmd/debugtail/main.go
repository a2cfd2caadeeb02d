// Command debugtail is a live console for debug events sent by running
// programs.
package main

import "github.com/ppiankov/debugtail/internal/cli"

func main() {
	cli.Execute()
}

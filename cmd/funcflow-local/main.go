// Command funcflow-local runs the local control plane on its own and sends
// events to it. Start a worker with RUNTIME_API pointing at `serve`, then
// submit events with `invoke`.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

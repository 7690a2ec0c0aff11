package main

import "context"

// runCtx is cancelled on interrupt so a joined session can leave the room cleanly.
var runCtx, cancelRun = context.WithCancel(context.Background())

func main() {
	defer cancelRun()
	Execute()
}

// Meshcall CLI entry point.
//
// meshcall joins a full-mesh WebRTC call by exchanging offers, answers and
// ICE candidates over a broadcast relay, or runs that relay itself.
//
//	meshcall relay --port 8080
//	meshcall join --relay http://localhost:8080 --video-file camera.ivf
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/1ureka/meshcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	chattrix "github.com/chattrix/chattrix/app"
)

func main() {
	ctx, _ := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	app := chattrix.New(ctx, nil)
	app.Start()
}

package main

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

func main() {
	app := mustBootstrapLedgerAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.log.Error("ledger-api stopped", zap.Error(err))
		panic(err)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"e2e_messenger/internal/cache"
	"e2e_messenger/internal/envelope"
	"e2e_messenger/internal/keystore"
	"e2e_messenger/internal/service/app"
	"e2e_messenger/internal/service/engine"
	"e2e_messenger/internal/service/exchange"
	"e2e_messenger/internal/service/identity"
)

func main() {
	// os.Args[0] is the program name, os.Args[1:] are arguments
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run main.go <username>")
	}

	username := os.Args[1]

	app.SetHost(os.Getenv("SERVER_ADDR"))

	storeDir := os.Getenv("KEYSTORE_DIR")
	if storeDir == "" {
		storeDir = filepath.Join(".", "data", username)
	}

	store, err := keystore.OpenBadger(storeDir)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	identitySvc := identity.NewService(store)
	exch := exchange.NewClient("http://"+app.Host(), username)
	eng := engine.NewSessionEngine(store, exch, engine.AcceptAll())
	codec := envelope.NewCodec()
	decCache := cache.New(store)

	ctx := context.Background()

	client := app.NewApp(identitySvc, exch, eng, codec, decCache)
	client.Run(ctx, username)

	client.Stop()
}

package main

import (
	"context"
	"log"
	"net/http"

	"marketflow/auth"
	"marketflow/cart"
	"marketflow/config"
	"marketflow/db"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/review"
	"marketflow/transaction"
	"marketflow/vault"
	"marketflow/withdrawal"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		log.Fatalf("bootstrap vault: %v", err)
	}

	server := &Server{
		authService:       auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		listingService:    listing.NewService(listing.NewRepository(pool), v),
		cartService:       cart.NewService(cart.NewRepository(pool)),
		txnService:        transaction.NewService(pool, transaction.NewRepository(pool), v, cfg.FeeRate, cfg.EscrowWindow),
		disputeService:    dispute.NewService(pool, dispute.NewRepository(pool), cfg.DisputeWindow),
		withdrawalService: withdrawal.NewService(pool, withdrawal.NewRepository(pool), v),
		reviewService:     review.NewService(review.NewRepository(pool)),
	}

	log.Printf("listening on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, server.routes()); err != nil {
		log.Fatal(err)
	}
}

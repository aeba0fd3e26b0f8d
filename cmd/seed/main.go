// Package main provides a CLI tool that registers reference data: tokens,
// pool markets, and hedge instruments. Run it once before the first cycle.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/storage"
)

type seedFile struct {
	Tokens []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"tokens"`
	Markets []struct {
		Address     string `json:"address"`
		IndexToken  string `json:"indexToken"`
		LongToken   string `json:"longToken"`
		ShortToken  string `json:"shortToken"`
		DisplayName string `json:"displayName"`
	} `json:"markets"`
}

func main() {
	path := flag.String("file", "seed.json", "Path to the reference data file")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	raw, err := os.ReadFile(*path) // #nosec G304 - operator-supplied path
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		log.Fatalf("Failed to parse seed file: %v", err)
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	if err := run(context.Background(), storage.NewReferenceRepository(postgres.Pool()), &seed); err != nil {
		log.Fatalf("Seed failed: %v", err)
	}
	log.Println("Reference data registered")
}

func run(ctx context.Context, repo *storage.ReferenceRepository, seed *seedFile) error {
	tokenIDs := make(map[string]int64, len(seed.Tokens))
	for _, t := range seed.Tokens {
		id, err := repo.UpsertToken(ctx, &models.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
		if err != nil {
			return fmt.Errorf("upsert token %s: %w", t.Symbol, err)
		}
		tokenIDs[t.Symbol] = id
		log.Printf("Token %s -> id %d", t.Symbol, id)
	}

	// One hedge instrument per non-stable index token
	instruments := make(map[string]bool)

	for _, m := range seed.Markets {
		indexID, ok := tokenIDs[m.IndexToken]
		if !ok {
			return fmt.Errorf("market %s references unknown index token %s", m.DisplayName, m.IndexToken)
		}
		longID, ok := tokenIDs[m.LongToken]
		if !ok {
			return fmt.Errorf("market %s references unknown long token %s", m.DisplayName, m.LongToken)
		}
		shortID, ok := tokenIDs[m.ShortToken]
		if !ok {
			return fmt.Errorf("market %s references unknown short token %s", m.DisplayName, m.ShortToken)
		}

		id, err := repo.UpsertMarket(ctx, &models.Market{
			Address:      common.HexToAddress(m.Address),
			IndexTokenID: indexID,
			LongTokenID:  longID,
			ShortTokenID: shortID,
			DisplayName:  m.DisplayName,
		})
		if err != nil {
			return fmt.Errorf("upsert market %s: %w", m.DisplayName, err)
		}
		log.Printf("Market %s -> id %d", m.DisplayName, id)

		if !models.IsStable(m.IndexToken) {
			instruments[models.HedgeTicker(m.IndexToken)] = true
		}
	}

	for ticker := range instruments {
		id, err := repo.UpsertInstrument(ctx, &models.HedgeInstrument{Ticker: ticker})
		if err != nil {
			return fmt.Errorf("upsert instrument %s: %w", ticker, err)
		}
		log.Printf("Hedge instrument %s -> id %d", ticker, id)
	}

	return nil
}

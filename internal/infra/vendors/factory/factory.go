// Package factory wires configured vendor clients into a registry.
package factory

import (
	"log"

	"github.com/zsh04/ai-trader-sub000/internal/infra/config"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/alpaca"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/alphavantage"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/finnhub"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/marketstack"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/twelvedata"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/yahoo"
)

// NewRegistry constructs every vendor client from configuration.
// The AlphaVantage daily client falls back to Yahoo, then TwelveData,
// in that order; the order is part of the contract.
func NewRegistry(cfg config.AppConfig, logger *log.Logger) *vendors.Registry {
	registry := vendors.NewRegistry()

	yahooClient := yahoo.New(yahoo.Options{
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	})
	twelveClient := twelvedata.New(twelvedata.Options{
		Key:     cfg.Vendors.TwelveData.Key,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	})
	avClient := alphavantage.New(alphavantage.Options{
		Key:     cfg.Vendors.AlphaVantage.Key,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	})

	registry.Register(alpaca.New(alpaca.Options{
		Key:     cfg.Vendors.Alpaca.Key,
		Secret:  cfg.Vendors.Alpaca.Secret,
		Feed:    cfg.Vendors.AlpacaFeed,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	}))
	registry.Register(avClient)
	registry.Register(finnhub.New(finnhub.Options{
		Token:   cfg.Vendors.Finnhub.Key,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	}))
	registry.Register(yahooClient)
	registry.Register(twelveClient)
	registry.Register(marketstack.New(marketstack.Options{
		Key:     cfg.Vendors.Marketstack.Key,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Backoff: cfg.HTTP.Backoff,
		Logger:  logger,
	}))

	registry.RegisterDaily("alphavantage", alphavantage.NewDaily(avClient, yahooClient, twelveClient))
	return registry
}

// Command engine is the trade execution engine's entrypoint: it loads
// configuration, wires every component named in spec.md, and runs the
// admin HTTP surface alongside the supervisor until an interrupt signal
// arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeengine/internal/api"
	"tradeengine/internal/broker"
	"tradeengine/internal/broker/fivepaisa"
	"tradeengine/internal/bus"
	"tradeengine/internal/bus/kafka"
	"tradeengine/internal/bus/memory"
	"tradeengine/internal/config"
	"tradeengine/internal/engine"
	"tradeengine/internal/entry"
	"tradeengine/internal/hours"
	"tradeengine/internal/ingress"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/notify/telegram"
	"tradeengine/internal/paper"
	"tradeengine/internal/publish"
	"tradeengine/internal/risk"
	"tradeengine/internal/sizing"
	"tradeengine/internal/store"
	"tradeengine/internal/verify"
	"tradeengine/internal/watchlist"

	"golang.org/x/time/rate"
)

var log = logger.With("component", "cmd_engine")

func main() {
	logger.SetLevel(getenv("LOG_LEVEL", "info"))

	cfg, err := config.Load()
	if err != nil {
		log.Errorf(err, "cmd_engine: loading configuration failed")
		os.Exit(1)
	}

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		log.Errorf(err, "cmd_engine: opening operational store failed")
		os.Exit(1)
	}

	watch := watchlist.New()
	hoursGate := hours.New(cfg)
	riskPolicy := risk.New(cfg)
	sizer := sizing.New(cfg)
	candles := market.NewCandleHistory(market.DefaultCandleCap)
	prices := market.NewPriceCache(market.DefaultPriceTTL)
	pivots := market.NewPivotClient(getenv("PIVOT_SERVICE_URL", ""))
	evaluator := entry.New(cfg, candles, pivots)

	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	underlyingBrk := buildBroker(cfg, prices, st)
	verifier := verify.New(nil, underlyingBrk.CancelOrder)
	brk := verifyingBroker{Broker: underlyingBrk, verifier: verifier}

	wsFanout := &wsSink{}
	sinks := append(buildSinks(cfg), wsFanout)

	var producer bus.Producer
	var consumer bus.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers)
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, "tradeengine")
	} else {
		memBus := memory.New()
		producer = memBus
		consumer = memBus
	}

	publisher := publish.New(producer, sinks...)

	sup := engine.New(engine.Deps{
		Config:     cfg,
		Watchlist:  watch,
		HoursGate:  hoursGate,
		RiskPolicy: riskPolicy,
		Sizer:      sizer,
		Evaluator:  evaluator,
		Candles:    candles,
		Pivots:     pivots,
		Prices:     prices,
		Broker:     brk,
		Verifier:   verifier,
		Publisher:  publisher,
		Store:      st,
	})

	server := api.New(cfg, watch, hoursGate, sup.Portfolio, sup.ActiveTrades, sup.CompletedTrades, sup, sup, sup)
	wsFanout.server = server

	signalProc := ingress.NewSignalProcessor(cfg, watch, riskPolicy, hoursGate, candles, nil, func(ev model.RiskEvent) {
		metrics.RecordIngestDrop(ev.Type)
		sup.EmitRiskEvent(ev)
	})
	mdConsumer := ingress.NewMarketDataConsumer(prices, candles, sup.OnTick, func(c model.Candle) {
		sup.OnCandle(ctx, c)
	})

	go consumeForever(ctx, consumer, bus.TopicStrategySignals, signalProc.Handle)
	go consumeForever(ctx, consumer, bus.TopicMarketData, mdConsumer.HandleTick)
	go consumeForever(ctx, consumer, bus.TopicCandles1m, mdConsumer.HandleCandle)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf(err, "cmd_engine: admin HTTP server failed")
		}
	}()

	go sup.Run(ctx)

	<-ctx.Done()
	log.Infof("cmd_engine: shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(err, "cmd_engine: admin HTTP server shutdown failed")
	}
	if err := producer.Close(); err != nil {
		log.Errorf(err, "cmd_engine: closing bus producer failed")
	}
}

func consumeForever(ctx context.Context, consumer bus.Consumer, topic string, handler bus.Handler) {
	if err := consumer.Consume(ctx, topic, handler); err != nil && ctx.Err() == nil {
		log.Errorf(err, "cmd_engine: consumer for topic %s exited", topic)
	}
}

func buildBroker(cfg *config.Config, prices *market.PriceCache, st *store.Store) broker.Broker {
	if cfg.Mode == config.ModeLive {
		return fivepaisa.New(fivepaisa.Config{
			BaseURL:      cfg.BrokerBaseURL,
			WSURL:        getenv("FIVEPAISA_WS_URL", ""),
			ClientCode:   os.Getenv("FIVEPAISA_CLIENT_CODE"),
			TOTPSecret:   os.Getenv("FIVEPAISA_TOTP_SECRET"),
			Password:     os.Getenv("FIVEPAISA_PASSWORD"),
			AppSource:    os.Getenv("FIVEPAISA_APP_SOURCE"),
			RequestLimit: rate.Limit(5),
			RequestBurst: 10,
		})
	}

	wallet, err := paper.New(paper.Config{}, prices, st)
	if err != nil {
		log.Errorf(err, "cmd_engine: constructing paper wallet failed")
		os.Exit(1)
	}
	return wallet
}

// buildSinks constructs the optional notification fan-out. The MongoDB
// backtest result store (internal/backtest/mongostore) is deliberately
// not wired here: it backs the offline backtest runner, never the live
// trading path (internal/backtest.Result doc comment).
func buildSinks(cfg *config.Config) []publish.Sink {
	var sinks []publish.Sink
	if cfg.TelegramToken != "" {
		sink, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Errorf(err, "cmd_engine: constructing telegram sink failed, continuing without it")
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// verifyingBroker wraps a concrete broker.Broker so every order it places
// is automatically subscribed against the shared Order Verifier, without
// the Position Manager needing to know which broker it is talking to
// (spec.md §4.7, "push its result into the registered callback").
type verifyingBroker struct {
	broker.Broker
	verifier *verify.Verifier
}

func (b verifyingBroker) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	ack, err := b.Broker.PlaceOrder(ctx, req)
	if err != nil {
		return ack, err
	}
	b.Broker.Subscribe(ack.OrderID, b.verifier.ReportResult)
	return ack, nil
}

// wsSink fans out every published event onto the admin API's websocket
// hub (internal/api/stream.go). server is nil until api.New runs, since
// the Supervisor the server depends on is itself built from a Publisher
// holding this sink — every method no-ops until it's assigned.
type wsSink struct {
	server *api.Server
}

func (w *wsSink) TradeEntry(ev model.TradeEntryEvent) {
	if w.server != nil {
		w.server.Broadcast("trade_entry", ev)
	}
}

func (w *wsSink) TradeResult(tr model.TradeResult) {
	if w.server != nil {
		w.server.Broadcast("trade_result", tr)
	}
}

func (w *wsSink) ProfitLoss(ev model.ProfitLossEvent) {
	if w.server != nil {
		w.server.Broadcast("profit_loss", ev)
	}
}

func (w *wsSink) RiskEvent(ev model.RiskEvent) {
	if w.server != nil {
		w.server.Broadcast("risk_event", ev)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Package mongostore is the reference backtest.ResultStore
// implementation, backing offline backtest runs with MongoDB (spec.md
// §1's external "MongoDB-backed backtest result store" collaborator).
// Not exercised by the live trading path — only an optional offline
// backtest runner depends on it. No example in the retrieved pack
// exercises go.mongodb.org/mongo-driver directly (it is named only in a
// pack manifest's go.mod), so this follows the driver's own documented
// idiom rather than a pack-specific pattern: a single *mongo.Client, one
// collection per concern, bson.M filters.
package mongostore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tradeengine/internal/backtest"
	"tradeengine/internal/logger"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Store persists backtest.Result documents to a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *logger.Logger
}

// Connect dials uri and returns a Store bound to database.collection.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
		log:        logger.With("component", "backtest_mongostore"),
	}, nil
}

type resultDoc struct {
	RunID       string    `bson:"runId"`
	StrategyID  string    `bson:"strategyId"`
	ScripCode   string    `bson:"scripCode"`
	WindowStart time.Time `bson:"windowStart"`
	WindowEnd   time.Time `bson:"windowEnd"`
	TotalTrades int       `bson:"totalTrades"`
	WinRate     string    `bson:"winRate"`
	NetPnL      string    `bson:"netPnL"`
	MaxDrawdown string    `bson:"maxDrawdown"`
	SharpeRatio string    `bson:"sharpeRatio"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func toDoc(r backtest.Result) resultDoc {
	return resultDoc{
		RunID:       r.RunID,
		StrategyID:  r.StrategyID,
		ScripCode:   r.ScripCode,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		TotalTrades: r.TotalTrades,
		WinRate:     r.WinRate.String(),
		NetPnL:      r.NetPnL.String(),
		MaxDrawdown: r.MaxDrawdown.String(),
		SharpeRatio: r.SharpeRatio.String(),
		CreatedAt:   r.CreatedAt,
	}
}

func fromDoc(d resultDoc) backtest.Result {
	return backtest.Result{
		RunID:       d.RunID,
		StrategyID:  d.StrategyID,
		ScripCode:   d.ScripCode,
		WindowStart: d.WindowStart,
		WindowEnd:   d.WindowEnd,
		TotalTrades: d.TotalTrades,
		WinRate:     mustDecimal(d.WinRate),
		NetPnL:      mustDecimal(d.NetPnL),
		MaxDrawdown: mustDecimal(d.MaxDrawdown),
		SharpeRatio: mustDecimal(d.SharpeRatio),
		CreatedAt:   d.CreatedAt,
	}
}

// SaveResult upserts a backtest result keyed by RunID.
func (s *Store) SaveResult(ctx context.Context, result backtest.Result) error {
	doc := toDoc(result)
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"runId": doc.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// ListResults returns the most recent runs for a strategy, newest first.
func (s *Store) ListResults(ctx context.Context, strategyID string, limit int) ([]backtest.Result, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, bson.M{"strategyId": strategyID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []backtest.Result
	for cursor.Next(ctx) {
		var doc resultDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromDoc(doc))
	}
	return out, cursor.Err()
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

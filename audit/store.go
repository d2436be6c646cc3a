package audit

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store is the MongoDB-backed persistence layer for the audit journal.
// The journal collection is append-only by convention: nothing in this
// package ever issues an update or delete against it.
type Store struct {
	coll *mongo.Collection
}

// NewStore connects Store to the "audit_journal" collection in db, creating
// the indexes the Recorder and Verify rely on (unique seq, wallet+time for
// the query API).
func NewStore(ctx context.Context, db *mongo.Database) (*Store, error) {
	coll := db.Collection("audit_journal")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: create indexes: %w", err)
	}
	return &Store{coll: coll}, nil
}

// LastEntry returns the highest-Seq entry in the journal, or (Entry{}, false)
// if the journal is empty, used by Recorder to resume sequencing after a
// restart without starting the hash chain over.
func (s *Store) LastEntry(ctx context.Context) (Entry, bool, error) {
	var e Entry
	err := s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// AppendBatch inserts entries in order. Callers must have already computed
// Seq/Hash/PrevHash for every entry; this is pure persistence.
func (s *Store) AppendBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}
	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

// ByWallet returns entries for walletID in ascending seq order, for the
// /v1/audit read API.
func (s *Store) ByWallet(ctx context.Context, walletID string, limit int64) ([]Entry, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "wallet_id", Value: walletID}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Range returns every entry with seq in [from, to), for chain verification.
func (s *Store) Range(ctx context.Context, from, to int64) ([]Entry, error) {
	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "seq", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lt", Value: to}}}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the total number of entries, used to bound Range scans.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.D{})
}

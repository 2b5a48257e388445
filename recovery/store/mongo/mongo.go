// Package mongo implements a recovery.Store backed by MongoDB, mirroring
// the collection-interface-wrapping layering of goa-ai's Mongo-backed
// clients: a narrow collection interface stands between the store and
// the driver so the store's own logic can be tested against a fake.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowcore-dev/flowcore/recovery"
)

type (
	// Options configures the Mongo-backed Store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	store struct {
		coll    collection
		timeout time.Duration
	}

	snapshotDocument struct {
		ID      string                   `bson:"_id"`
		FlowID  string                   `bson:"flow_id"`
		Epoch   int64                    `bson:"epoch"`
		Cells   []cellSnapshotDocument   `bson:"cells"`
		Cursors []cursorSnapshotDocument `bson:"cursors"`
	}

	cellSnapshotDocument struct {
		StepID string `bson:"step_id"`
		Key    string `bson:"key"`
		Bytes  []byte `bson:"bytes"`
	}

	cursorSnapshotDocument struct {
		SourceStepID string `bson:"source_step_id"`
		PartitionKey string `bson:"partition_key"`
		Bytes        []byte `bson:"bytes"`
	}

	pointerDocument struct {
		ID     string `bson:"_id"`
		FlowID string `bson:"flow_id"`
		Epoch  int64  `bson:"epoch"`
	}
)

const (
	defaultCollection = "flowcore_recovery"
	defaultTimeout    = 5 * time.Second
)

// New constructs a recovery.Store backed by the provided MongoDB client.
func New(opts Options) (recovery.Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	return &store{coll: mongoCollection{coll: mcoll}, timeout: timeout}, nil
}

func snapshotDocID(flowID string, epoch int64) string {
	return fmt.Sprintf("snapshot:%s:%d", flowID, epoch)
}

func pointerDocID(flowID string) string {
	return fmt.Sprintf("pointer:%s", flowID)
}

// Commit implements recovery.Store: it upserts the epoch-addressed
// snapshot document, then upserts the committed-epoch pointer document —
// write-then-publish (§4.7).
func (s *store) Commit(ctx context.Context, snap recovery.Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cells := make([]cellSnapshotDocument, len(snap.Cells))
	for i, c := range snap.Cells {
		cells[i] = cellSnapshotDocument{StepID: c.StepID, Key: c.Key, Bytes: c.Bytes}
	}
	cursors := make([]cursorSnapshotDocument, len(snap.Cursors))
	for i, c := range snap.Cursors {
		cursors[i] = cursorSnapshotDocument{SourceStepID: c.SourceStepID, PartitionKey: c.PartitionKey, Bytes: c.Bytes}
	}
	doc := snapshotDocument{
		ID:      snapshotDocID(snap.FlowID, snap.Epoch),
		FlowID:  snap.FlowID,
		Epoch:   snap.Epoch,
		Cells:   cells,
		Cursors: cursors,
	}
	id := doc.ID
	if err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	ptr := pointerDocument{ID: pointerDocID(snap.FlowID), FlowID: snap.FlowID, Epoch: snap.Epoch}
	if err := s.coll.ReplaceOne(ctx, bson.M{"_id": ptr.ID}, ptr, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("publish committed epoch: %w", err)
	}
	return nil
}

// CommittedEpoch implements recovery.Store.
func (s *store) CommittedEpoch(ctx context.Context, flowID string) (int64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ptr pointerDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": pointerDocID(flowID)}, &ptr)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read committed epoch: %w", err)
	}
	return ptr.Epoch, true, nil
}

// Load implements recovery.Store.
func (s *store) Load(ctx context.Context, flowID string, epoch int64) (recovery.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc snapshotDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": snapshotDocID(flowID, epoch)}, &doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return recovery.Snapshot{}, fmt.Errorf("mongo store: flow %q has no snapshot at epoch %d", flowID, epoch)
	}
	if err != nil {
		return recovery.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	cells := make([]recovery.CellSnapshot, len(doc.Cells))
	for i, c := range doc.Cells {
		cells[i] = recovery.CellSnapshot{StepID: c.StepID, Key: c.Key, Bytes: c.Bytes}
	}
	cursors := make([]recovery.CursorSnapshot, len(doc.Cursors))
	for i, c := range doc.Cursors {
		cursors[i] = recovery.CursorSnapshot{SourceStepID: c.SourceStepID, PartitionKey: c.PartitionKey, Bytes: c.Bytes}
	}
	return recovery.Snapshot{FlowID: doc.FlowID, Epoch: doc.Epoch, Cells: cells, Cursors: cursors}, nil
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// collection narrows *mongodriver.Collection to the operations this
// store needs, the way the teacher's runlog client narrows it to
// InsertOne/Find/Indexes — kept swappable for tests.
type collection interface {
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) error
	FindOne(ctx context.Context, filter any, out any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) error {
	_, err := c.coll.ReplaceOne(ctx, filter, replacement, opts...)
	return err
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, out any) error {
	return c.coll.FindOne(ctx, filter).Decode(out)
}

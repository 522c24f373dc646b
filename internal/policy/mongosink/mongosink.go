// Package mongosink provides a MongoDB-backed policy.AuditSink, persisting
// every policy evaluation durably so audit history survives process
// restarts (spec.md §9 "Audit durability").
package mongosink

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
)

// Sink writes one document per AuditEntry to a MongoDB collection.
type Sink struct {
	collection *mongo.Collection
	log        telemetry.Logger
}

// New constructs a Sink backed by collection.
func New(collection *mongo.Collection, log telemetry.Logger) *Sink {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Sink{collection: collection, log: log}
}

var _ policy.AuditSink = (*Sink)(nil)

// auditDocument is the MongoDB document representation of an AuditEntry,
// grounded on registry/store/mongo/mongo.go's toolsetDocument shape.
type auditDocument struct {
	TransactionID string    `bson:"transaction_id"`
	Timestamp     time.Time `bson:"timestamp"`
	SubjectID     string    `bson:"subject_id"`
	Role          string    `bson:"role"`
	ResourceType  string    `bson:"resource_type"`
	ResourceID    string    `bson:"resource_id"`
	Operation     string    `bson:"operation"`
	Allowed       bool      `bson:"allowed"`
	Reason        string    `bson:"reason"`
	LatencyMillis int64     `bson:"latency_ms"`
}

// Record implements policy.AuditSink. The interface returns no error, so a
// write failure is logged and otherwise swallowed rather than blocking the
// evaluation path that produced entry.
func (s *Sink) Record(ctx context.Context, entry policy.AuditEntry) {
	if _, err := s.collection.InsertOne(ctx, toAuditDocument(entry)); err != nil {
		s.log.Warn(ctx, "mongosink: audit insert failed", "error", err.Error())
	}
}

func toAuditDocument(entry policy.AuditEntry) auditDocument {
	return auditDocument{
		TransactionID: entry.TransactionID,
		Timestamp:     entry.Timestamp,
		SubjectID:     entry.SubjectID,
		Role:          entry.Role,
		ResourceType:  string(entry.ResourceType),
		ResourceID:    entry.ResourceID,
		Operation:     entry.Operation,
		Allowed:       entry.Decision.Allowed,
		Reason:        entry.Decision.Reason,
		LatencyMillis: entry.Latency.Milliseconds(),
	}
}

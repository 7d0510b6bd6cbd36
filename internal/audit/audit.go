// Package audit records identity mutations to an activity log. Appends
// are fire-and-forget: a sink failure is reported to observability but
// never rolls back the mutation it describes.
package audit

import (
	"context"
	"time"

	"github.com/pitlane-app/identity/domain"
)

// Entry is one activity-log record for a mutating identity operation.
type Entry struct {
	ID        string                `bson:"_id,omitempty" json:"id,omitempty"`
	Timestamp time.Time             `bson:"timestamp" json:"timestamp"`
	Actor     string                `bson:"actor" json:"actor"`
	Action    string                `bson:"action" json:"action"`
	UID       string                `bson:"uid" json:"uid"`
	Provider  domain.ProviderKind   `bson:"provider,omitempty" json:"provider,omitempty"`
	Before    []domain.ProviderKind `bson:"before,omitempty" json:"before,omitempty"`
	After     []domain.ProviderKind `bson:"after,omitempty" json:"after,omitempty"`
	Origin    string                `bson:"origin,omitempty" json:"origin,omitempty"`
	Success   bool                  `bson:"success" json:"success"`
	Error     string                `bson:"error,omitempty" json:"error,omitempty"`
}

// Sink appends audit entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

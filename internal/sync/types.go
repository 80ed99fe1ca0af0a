package sync

import (
	"context"
	"time"

	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/store"
)

// --- Consumer-defined interfaces ---
// The engine depends on these rather than on the concrete store, remote
// client and credential session, so tests can substitute any of them.

// Store is the part of the entity repository the engine drives. Satisfied
// by *store.Store.
type Store interface {
	GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error)
	ListUnsynced(ctx context.Context, ownerID string) ([]recipe.Recipe, error)
	RewriteIdentifier(ctx context.Context, oldID, newID string) error
	MarkSyncedAtVersion(ctx context.Context, id string, version int64, syncedAt time.Time) (bool, error)
	SetMediaRef(ctx context.Context, id, oldRef, newRef string) (bool, error)
	UpsertCanonical(ctx context.Context, r *recipe.Recipe) (bool, error)
	ListPendingDeletes(ctx context.Context, ownerID string) ([]store.Tombstone, error)
	RecordPendingDelete(ctx context.Context, id, ownerID string) error
	ClearPendingDelete(ctx context.Context, id string) error
	PendingWatermark(ctx context.Context, ownerID string) (store.Watermark, error)
}

// Gateway is the remote recipe service. Satisfied by *remote.Client.
type Gateway interface {
	FetchAll(ctx context.Context, ownerID string) ([]recipe.Recipe, error)
	Create(ctx context.Context, r *recipe.Recipe) (*recipe.Recipe, error)
	Update(ctx context.Context, id string, r *recipe.Recipe) (*recipe.Recipe, error)
	Delete(ctx context.Context, id string) error
	UploadMedia(ctx context.Context, data []byte, namespace, name string) (string, error)
}

// Credentials resolves the signed-in owner. An empty OwnerID means nobody
// is signed in. Satisfied by *auth.Session.
type Credentials interface {
	OwnerID() string
}

// StatusReporter receives pass transitions. Satisfied by
// *syncstatus.Publisher.
type StatusReporter interface {
	Begin(ctx context.Context)
	Succeed(ctx context.Context)
	Fail(ctx context.Context, msg string)
}

// Notifier pushes connectivity and remote-change signals. Satisfied by
// *remote.Notifier.
type Notifier interface {
	Run(ctx context.Context, signal func(reason string)) error
}

package call

import (
	"context"

	"github.com/google/uuid"

	"github.com/amigotalk/meshcall/internal/store"
)

// CreateRoom writes a fresh call record and returns its id. The room itself
// only materializes as participants join; the record exists so the lobby
// can link to it.
func CreateRoom(ctx context.Context, db store.Store, caller Participant) (string, error) {
	id := uuid.NewString()
	if err := db.Put(ctx, "calls", id, map[string]any{"createdBy": caller.ID}); err != nil {
		return "", NewError("create room", err)
	}
	return id, nil
}

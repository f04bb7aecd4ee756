// Package auth maintains the admin registry, the approval handshake, and
// per-chat lockdown checks.
package auth

import (
	"context"
	"errors"
	"fmt"

	"gmail_bot/internal/model"
	"gmail_bot/internal/storage"
)

// Gate errors, rejected synchronously with no state change.
var (
	ErrNotAuthorized  = errors.New("not authorized")
	ErrLastAdmin      = errors.New("cannot remove the last admin")
	ErrOwnerProtected = errors.New("cannot remove the owner")
	ErrNotPending     = errors.New("user has no pending request")
)

// Gate validates admin operations and chat access against the store.
type Gate struct {
	store storage.Storage
}

// NewGate creates a Gate and seeds the owner into the admin registry if it is
// empty. After this the registry is never empty.
func NewGate(ctx context.Context, store storage.Storage, ownerID int64) (*Gate, error) {
	count, err := store.CountAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("count admins: %w", err)
	}
	if count == 0 {
		if err := store.AddAdmin(ctx, &model.Admin{UserID: ownerID, Owner: true}); err != nil {
			return nil, fmt.Errorf("seed owner: %w", err)
		}
	}
	return &Gate{store: store}, nil
}

// IsAdmin reports whether userID is a registered admin.
func (g *Gate) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	return g.store.IsAdmin(ctx, userID)
}

// CheckCommand decides whether a command from userID is accepted in chatID.
// Admins are accepted everywhere. Non-admins are accepted only in a
// registered, unlocked chat; locked chats and private chats require the
// /start approval handshake.
func (g *Gate) CheckCommand(ctx context.Context, chatID, userID int64) error {
	admin, err := g.store.IsAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if admin {
		return nil
	}

	chat, err := g.store.GetChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotAuthorized
	}
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}
	if chat.Locked || chat.ChatID == userID {
		// private chats have chat_id == user_id on Telegram
		return ErrNotAuthorized
	}
	return nil
}

// RequestAccess starts the approval handshake for an unknown user,
// transitioning Unregistered -> PendingApproval. Returns true if a new
// request was created, false if one was already pending or the user is
// already an admin.
func (g *Gate) RequestAccess(ctx context.Context, userID int64) (bool, error) {
	admin, err := g.store.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	if admin {
		return false, nil
	}
	pending, err := g.store.IsPending(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	if pending {
		return false, nil
	}
	if err := g.store.AddPending(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

// Approve completes the handshake, transitioning PendingApproval ->
// Authorized. The requester must be an existing admin.
func (g *Gate) Approve(ctx context.Context, userID, requesterID int64) error {
	if err := g.requireAdmin(ctx, requesterID); err != nil {
		return err
	}
	pending, err := g.store.IsPending(ctx, userID)
	if err != nil {
		return fmt.Errorf("check pending: %w", err)
	}
	if !pending {
		return fmt.Errorf("%w: %d", ErrNotPending, userID)
	}
	if err := g.store.AddAdmin(ctx, &model.Admin{UserID: userID}); err != nil {
		return err
	}
	return g.store.RemovePending(ctx, userID)
}

// Authorize adds userID to the admin registry directly. The requester must be
// an existing admin.
func (g *Gate) Authorize(ctx context.Context, userID, requesterID int64) error {
	if err := g.requireAdmin(ctx, requesterID); err != nil {
		return err
	}
	if err := g.store.AddAdmin(ctx, &model.Admin{UserID: userID}); err != nil {
		return err
	}
	// clear any pending request the user may still have
	return g.store.RemovePending(ctx, userID)
}

// Deauthorize removes userID from the admin registry. Removing the owner or
// the last remaining admin is rejected with no state change.
func (g *Gate) Deauthorize(ctx context.Context, userID, requesterID int64) error {
	if err := g.requireAdmin(ctx, requesterID); err != nil {
		return err
	}

	admins, err := g.store.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(admins) <= 1 {
		return ErrLastAdmin
	}
	for _, a := range admins {
		if a.UserID == userID && a.Owner {
			return ErrOwnerProtected
		}
	}
	return g.store.RemoveAdmin(ctx, userID)
}

func (g *Gate) requireAdmin(ctx context.Context, userID int64) error {
	admin, err := g.store.IsAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !admin {
		return ErrNotAuthorized
	}
	return nil
}

package userstate

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/store"
)

const (
	ModeFriend = "friend"
	ModeRandom = "random"

	StatusBrowsing     = "browsing"
	StatusWaiting      = "waiting"
	StatusMatched      = "matched"
	StatusInGame       = "in_game"
	StatusDisconnected = "disconnected"
)

const (
	keyMode   = "user:mode"
	keyStatus = "user:status"
	keyRoom   = "user:room"

	roleKeyPrefix = "role:"
)

// Context - the process-wide session context persisted across restarts:
// mode, status, current room and one role value per room id. Every read and
// write of this state goes through here, never ad hoc through the store.
type Context struct {
	store store.Store

	Mode   string
	Status string
	RoomID string
}

func New(s store.Store) *Context {
	return &Context{store: s}
}

// Load - restores mode, status and room id from the store.
func (that *Context) Load() error {
	mode, _, err := that.store.Get(keyMode)
	if err != nil {
		return fmt.Errorf("failed to load mode: %w", err)
	}

	status, _, err := that.store.Get(keyStatus)
	if err != nil {
		return fmt.Errorf("failed to load status: %w", err)
	}

	roomID, _, err := that.store.Get(keyRoom)
	if err != nil {
		return fmt.Errorf("failed to load room id: %w", err)
	}

	that.Mode = mode
	that.Status = status
	that.RoomID = roomID

	return nil
}

// Save - persists the current mode, status and room id. Empty fields are
// removed rather than stored.
func (that *Context) Save() error {
	for key, value := range map[string]string{
		keyMode:   that.Mode,
		keyStatus: that.Status,
		keyRoom:   that.RoomID,
	} {
		if value == "" {
			if err := that.store.Remove(key); err != nil {
				return fmt.Errorf("failed to remove %s: %w", key, err)
			}
			continue
		}

		if err := that.store.Set(key, value); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}

	return nil
}

// Clear - wipes mode, status and room id, both in memory and in the store.
func (that *Context) Clear() error {
	that.Mode = ""
	that.Status = ""
	that.RoomID = ""

	return that.Save()
}

// RoleFor - the persisted role for a session, or empty if none was stored.
func (that *Context) RoleFor(sessionID string) (entity.Role, error) {
	value, ok, err := that.store.Get(roleKeyPrefix + sessionID)
	if err != nil {
		return entity.EmptyCell, fmt.Errorf("failed to load role: %w", err)
	}
	if !ok {
		return entity.EmptyCell, nil
	}

	role := entity.Role(value)
	if !role.IsValid() {
		return entity.EmptyCell, nil
	}

	return role, nil
}

func (that *Context) SetRoleFor(sessionID string, role entity.Role) error {
	if err := that.store.Set(roleKeyPrefix+sessionID, string(role)); err != nil {
		return fmt.Errorf("failed to persist role: %w", err)
	}

	return nil
}

func (that *Context) ClearRoleFor(sessionID string) error {
	if err := that.store.Remove(roleKeyPrefix + sessionID); err != nil {
		return fmt.Errorf("failed to clear role: %w", err)
	}

	return nil
}

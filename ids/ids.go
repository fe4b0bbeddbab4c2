// Package ids defines the opaque identifiers used throughout the sync core:
// entries, blocks, chunks, devices, realms and organizations.
package ids

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntryID identifies a manifest (file, folder, workspace or user manifest)
// within its owning workspace or user realm.
type EntryID uuid.UUID

// NewEntryID generates a fresh random entry id.
func NewEntryID() EntryID {
	return EntryID(uuid.New())
}

// String renders the canonical textual form.
func (id EntryID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value (never a valid entry id).
func (id EntryID) IsZero() bool {
	return id == EntryID{}
}

// ParseEntryID parses the canonical textual form produced by String.
func ParseEntryID(s string) (EntryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntryID{}, fmt.Errorf("malformed entry id %q: %w", s, err)
	}

	return EntryID(u), nil
}

// MarshalJSON renders the canonical textual form.
func (id EntryID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical textual form.
func (id *EntryID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEntryID(s)
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// BlockID identifies an opaque, content-addressed encrypted block on the
// realm service.
type BlockID uuid.UUID

// NewBlockID generates a fresh random block id.
func NewBlockID() BlockID {
	return BlockID(uuid.New())
}

func (id BlockID) String() string {
	return uuid.UUID(id).String()
}

// ParseBlockID parses the canonical textual form.
func ParseBlockID(s string) (BlockID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BlockID{}, fmt.Errorf("malformed block id %q: %w", s, err)
	}

	return BlockID(u), nil
}

// MarshalJSON renders the canonical textual form.
func (id BlockID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical textual form.
func (id *BlockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseBlockID(s)
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// ChunkID identifies a local-only chunk of dirty file data. It never leaves
// the device.
type ChunkID uuid.UUID

// NewChunkID generates a fresh random chunk id.
func NewChunkID() ChunkID {
	return ChunkID(uuid.New())
}

func (id ChunkID) String() string {
	return uuid.UUID(id).String()
}

// ParseChunkID parses the canonical textual form.
func ParseChunkID(s string) (ChunkID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ChunkID{}, fmt.Errorf("malformed chunk id %q: %w", s, err)
	}

	return ChunkID(u), nil
}

// MarshalJSON renders the canonical textual form.
func (id ChunkID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical textual form.
func (id *ChunkID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseChunkID(s)
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// RealmID identifies a server-side realm. It is numerically equal to the
// workspace's EntryID, or to the owning user's user-manifest EntryID for the
// user realm.
type RealmID EntryID

func (id RealmID) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON renders the canonical textual form.
func (id RealmID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical textual form.
func (id *RealmID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("malformed realm id %q: %w", s, err)
	}

	*id = RealmID(u)

	return nil
}

// OrganizationID identifies the tenant an account belongs to.
type OrganizationID string

// UserID identifies an account within an organization.
type UserID string

// DeviceName identifies one of a user's enrolled devices.
type DeviceName string

// DeviceID is the pair UserID@DeviceName that uniquely names a device across
// an organization; it is the unit that signs manifests and certificates.
type DeviceID struct {
	UserID     UserID
	DeviceName DeviceName
}

// String renders "user@device".
func (d DeviceID) String() string {
	return string(d.UserID) + "@" + string(d.DeviceName)
}

// IsZero reports whether d has neither a user nor a device component.
func (d DeviceID) IsZero() bool {
	return d.UserID == "" && d.DeviceName == ""
}

// MarshalJSON renders the "user@device" textual form.
func (d DeviceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses the "user@device" textual form.
func (d *DeviceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseDeviceID(s)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// ParseDeviceID parses the "user@device" textual form.
func ParseDeviceID(s string) (DeviceID, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DeviceID{}, fmt.Errorf("malformed device id %q", s)
	}

	return DeviceID{UserID: UserID(parts[0]), DeviceName: DeviceName(parts[1])}, nil
}

// EntryName is a single path component (a file or folder name within a
// parent folder's children map). Names need not be globally unique, only
// unique as keys within one folder's children map.
type EntryName string

package remote

import (
	"context"
	"time"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/parsecerr"
)

// Status is the realm service's response discriminator, matching the named
// exceptions raised by the backend's vlob/realm drivers
// (VlobNotFoundError, VlobAlreadyExistsError, VlobVersionError,
// VlobEncryptionRevisionError, VlobInMaintenanceError, RealmNotFoundError,
// RealmAlreadyExistsError, VlobAccessError) rather than a transport-level
// status code.
type Status string

const (
	StatusOK                     Status = "ok"
	StatusNotFound                Status = "not_found"
	StatusAlreadyExists            Status = "already_exists"
	StatusBadVersion                Status = "bad_version"
	StatusBadEncryptionRevision       Status = "bad_encryption_revision"
	StatusInMaintenance                Status = "in_maintenance"
	StatusNotAllowed                     Status = "not_allowed"
)

// ErrForStatus maps a non-OK Status to the matching §7 error kind. Callers
// are expected to choose the message; this only fixes the kind.
func ErrForStatus(s Status, msg string) error {
	switch s {
	case StatusNotFound:
		return parsecerr.New(parsecerr.NoAccess, msg, nil) // caller may override to a not-found specific wrapper
	case StatusAlreadyExists:
		return parsecerr.New(parsecerr.RemoteSync, msg, nil)
	case StatusBadVersion:
		return parsecerr.New(parsecerr.RemoteSync, msg, nil)
	case StatusBadEncryptionRevision:
		return parsecerr.New(parsecerr.BadEncryptionRevision, msg, nil)
	case StatusInMaintenance:
		return parsecerr.New(parsecerr.InMaintenance, msg, nil)
	case StatusNotAllowed:
		return parsecerr.New(parsecerr.NoAccess, msg, nil)
	default:
		return parsecerr.New(parsecerr.Offline, msg, nil)
	}
}

// VlobCreateRequest is "vlob_create" of §6.
type VlobCreateRequest struct {
	RealmID            ids.RealmID `json:"realm_id"`
	EncryptionRevision uint32      `json:"encryption_revision"`
	VlobID             ids.EntryID `json:"vlob_id"`
	Timestamp          time.Time   `json:"timestamp"`
	Blob               []byte      `json:"blob"`
}

// VlobUpdateRequest is "vlob_update" of §6.
type VlobUpdateRequest struct {
	EncryptionRevision uint32      `json:"encryption_revision"`
	VlobID             ids.EntryID `json:"vlob_id"`
	Version            uint64      `json:"version"`
	Timestamp          time.Time   `json:"timestamp"`
	Blob               []byte      `json:"blob"`
}

// VlobReadRequest is "vlob_read" of §6.
type VlobReadRequest struct {
	EncryptionRevision uint32      `json:"encryption_revision"`
	VlobID             ids.EntryID `json:"vlob_id"`
	Version            *uint64     `json:"version,omitempty"`
	Timestamp          *time.Time  `json:"timestamp,omitempty"`
}

// VlobReadResponse is the "(author, timestamp, version, blob)" tuple of §6.
type VlobReadResponse struct {
	Status    Status        `json:"status"`
	Author    ids.DeviceID  `json:"author"`
	Timestamp time.Time     `json:"timestamp"`
	Version   uint64        `json:"version"`
	Blob      []byte        `json:"blob"`
}

// VlobPollChangesRequest is "vlob_poll_changes" of §6.
type VlobPollChangesRequest struct {
	RealmID        ids.RealmID `json:"realm_id"`
	LastCheckpoint uint64      `json:"last_checkpoint"`
}

// VlobPollChangesResponse is the "(current_checkpoint, map<vlob_id,
// version>)" tuple of §6.
type VlobPollChangesResponse struct {
	Status            Status                  `json:"status"`
	CurrentCheckpoint uint64                  `json:"current_checkpoint"`
	Changes           map[ids.EntryID]uint64  `json:"changes"`
}

// BlockCreateRequest is "block_create" of §6.
type BlockCreateRequest struct {
	BlockID    ids.BlockID `json:"block_id"`
	RealmID    ids.RealmID `json:"realm_id"`
	Ciphertext []byte      `json:"ciphertext"`
}

// BlockReadResponse wraps "block_read" of §6.
type BlockReadResponse struct {
	Status     Status `json:"status"`
	Ciphertext []byte `json:"ciphertext"`
}

// RealmCreateRequest is "realm_create" of §6.
type RealmCreateRequest struct {
	SelfRoleCertificate []byte `json:"self_role_certificate"`
}

// RoleCertificateRequest is "realm_update_roles" of §6.
type RoleCertificateRequest struct {
	RoleCertificate []byte `json:"role_certificate"`
}

// RoleCertificatesResponse is "realm_get_role_certificates" of §6.
type RoleCertificatesResponse struct {
	Status           Status   `json:"status"`
	RoleCertificates [][]byte `json:"role_certificates"`
}

// MaintenanceBoundaryRequest is shared by realm_start/finish_reencryption_
// maintenance of §6.
type MaintenanceBoundaryRequest struct {
	RealmID              ids.RealmID       `json:"realm_id"`
	EncryptionRevision   uint32            `json:"encryption_revision"`
	PerParticipantMessage map[ids.UserID][]byte `json:"per_participant_message,omitempty"`
}

// ReencryptionBatchGetRequest is "vlob_maintenance_get_reencryption_batch".
type ReencryptionBatchGetRequest struct {
	RealmID            ids.RealmID `json:"realm_id"`
	EncryptionRevision uint32      `json:"encryption_revision"`
	Size               int         `json:"size"`
}

// ReencryptionBatchItem is one vlob version to reencrypt.
type ReencryptionBatchItem struct {
	VlobID  ids.EntryID `json:"vlob_id"`
	Version uint64      `json:"version"`
	Blob    []byte      `json:"blob"`
}

// ReencryptionBatchGetResponse reports the batch plus the overall progress
// (total, done) named in §4.7.
type ReencryptionBatchGetResponse struct {
	Status Status                  `json:"status"`
	Batch  []ReencryptionBatchItem `json:"batch"`
	Total  int                     `json:"total"`
	Done   int                     `json:"done"`
}

// ReencryptionBatchSaveRequest is "vlob_maintenance_save_reencryption_batch".
type ReencryptionBatchSaveRequest struct {
	RealmID            ids.RealmID             `json:"realm_id"`
	EncryptionRevision uint32                  `json:"encryption_revision"`
	Batch              []ReencryptionBatchItem `json:"batch"`
}

// ReencryptionBatchSaveResponse reports progress after saving a batch.
type ReencryptionBatchSaveResponse struct {
	Status Status `json:"status"`
	Total  int    `json:"total"`
	Done   int    `json:"done"`
}

// MessageGetRequest is "message_get" of §6.
type MessageGetRequest struct {
	Offset uint64 `json:"offset"`
}

// Message is one inbound sharing/ping message.
type Message struct {
	Offset    uint64       `json:"offset"`
	Sender    ids.DeviceID `json:"sender"`
	Timestamp time.Time    `json:"timestamp"`
	Body      []byte       `json:"body"`
}

// MessageGetResponse is the response to message_get.
type MessageGetResponse struct {
	Status   Status    `json:"status"`
	Messages []Message `json:"messages"`
}

// MessageSendRequest is "message_send" of §6.
type MessageSendRequest struct {
	Recipient ids.UserID `json:"recipient"`
	Timestamp time.Time  `json:"timestamp"`
	Body      []byte     `json:"body"`
}

// RealmClient is the full RPC surface of §6, abstracted behind an interface
// so RemoteLoader can be tested against a fake without a network.
type RealmClient interface {
	VlobCreate(ctx context.Context, req VlobCreateRequest) (Status, error)
	VlobUpdate(ctx context.Context, req VlobUpdateRequest) (Status, error)
	VlobRead(ctx context.Context, req VlobReadRequest) (VlobReadResponse, error)
	VlobPollChanges(ctx context.Context, req VlobPollChangesRequest) (VlobPollChangesResponse, error)
	BlockCreate(ctx context.Context, req BlockCreateRequest) (Status, error)
	BlockRead(ctx context.Context, blockID ids.BlockID) (BlockReadResponse, error)
	RealmCreate(ctx context.Context, req RealmCreateRequest) (Status, error)
	RealmUpdateRoles(ctx context.Context, req RoleCertificateRequest) (Status, error)
	RealmGetRoleCertificates(ctx context.Context, realmID ids.RealmID) (RoleCertificatesResponse, error)
	StartReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error)
	FinishReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error)
	GetReencryptionBatch(ctx context.Context, req ReencryptionBatchGetRequest) (ReencryptionBatchGetResponse, error)
	SaveReencryptionBatch(ctx context.Context, req ReencryptionBatchSaveRequest) (ReencryptionBatchSaveResponse, error)
	MessageGet(ctx context.Context, req MessageGetRequest) (MessageGetResponse, error)
	MessageSend(ctx context.Context, req MessageSendRequest) error
}

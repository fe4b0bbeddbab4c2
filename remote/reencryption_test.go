package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
)

// fakeReencryptionClient embeds a nil RealmClient and implements only the
// maintenance/batch RPCs Reencryption.Run drives, serving batches of a
// fixed total size two at a time to exercise the resumable batch loop.
type fakeReencryptionClient struct {
	RealmClient

	items []ReencryptionBatchItem

	started, finished bool
	savedRevision     uint32
	saved             []ReencryptionBatchItem
}

func (f *fakeReencryptionClient) StartReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error) {
	f.started = true
	return StatusOK, nil
}

func (f *fakeReencryptionClient) FinishReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error) {
	f.finished = true
	return StatusOK, nil
}

func (f *fakeReencryptionClient) GetReencryptionBatch(ctx context.Context, req ReencryptionBatchGetRequest) (ReencryptionBatchGetResponse, error) {
	take := 2
	if take > len(f.items) {
		take = len(f.items)
	}

	batch := f.items[:take]
	f.items = f.items[take:]

	return ReencryptionBatchGetResponse{Status: StatusOK, Batch: batch, Total: len(f.saved) + len(f.items) + len(batch), Done: len(f.saved)}, nil
}

func (f *fakeReencryptionClient) SaveReencryptionBatch(ctx context.Context, req ReencryptionBatchSaveRequest) (ReencryptionBatchSaveResponse, error) {
	f.savedRevision = req.EncryptionRevision
	f.saved = append(f.saved, req.Batch...)

	return ReencryptionBatchSaveResponse{Status: StatusOK, Total: len(f.saved) + len(f.items), Done: len(f.saved)}, nil
}

func TestReencryptionRunDrivesFullProtocol(t *testing.T) {
	oldKey, err := crypto.GenerateSecretKey()
	require.NoError(t, err)

	newKey, err := crypto.GenerateSecretKey()
	require.NoError(t, err)

	var items []ReencryptionBatchItem
	for i := 0; i < 5; i++ {
		sealed, err := crypto.Seal(oldKey, []byte("vlob contents"))
		require.NoError(t, err)

		items = append(items, ReencryptionBatchItem{VlobID: ids.NewEntryID(), Version: 1, Blob: sealed})
	}

	client := &fakeReencryptionClient{items: items}

	r := &Reencryption{
		Client:                client,
		RealmID:               ids.RealmID(ids.NewEntryID()),
		OldEncryptionRevision: 1,
		OldKey:                oldKey,
		NewKey:                newKey,
	}

	require.NoError(t, r.Run(context.Background()))

	require.True(t, client.started)
	require.True(t, client.finished)
	require.Equal(t, uint32(2), client.savedRevision)
	require.Len(t, client.saved, 5)

	for _, item := range client.saved {
		plain, err := crypto.Open(newKey, item.Blob)
		require.NoError(t, err)
		require.Equal(t, "vlob contents", string(plain))
	}
}

func TestReencryptionRunPropagatesMaintenanceFailure(t *testing.T) {
	client := &fakeReencryptionStartFailsClient{}

	r := &Reencryption{
		Client:                client,
		RealmID:               ids.RealmID(ids.NewEntryID()),
		OldEncryptionRevision: 1,
	}

	err := r.Run(context.Background())
	require.Error(t, err)
}

type fakeReencryptionStartFailsClient struct {
	RealmClient
}

func (f *fakeReencryptionStartFailsClient) StartReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error) {
	return StatusNotAllowed, nil
}

package remote

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
)

// batchSize is the cap on a single reencryption batch named in §4.7 step 3.
const batchSize = 1000

// reencryptWorkers bounds how many vlob versions are decrypted/reencrypted
// concurrently within one fetched batch; the RPC fetch/save calls themselves
// stay sequential (the server paginates by offset), only the CPU-bound
// re-encryption of the batch's contents fans out.
const reencryptWorkers = 8

// Reencryption drives the four-step key rotation protocol of §4.7 for one
// realm. Callers supply the old and new workspace keys; Reencryption does
// not decide when a rotation is warranted, only how to execute one already
// decided on (e.g. by userfs after a revocation).
type Reencryption struct {
	Client  RealmClient
	RealmID ids.RealmID

	OldEncryptionRevision uint32
	OldKey                crypto.SecretKey
	NewKey                crypto.SecretKey

	// PerParticipantMessage carries the new key broadcast (step 2), already
	// signed and sealed for each remaining participant; userfs builds this
	// using the same sharing.granted envelope format, flagged as
	// reencryption.
	PerParticipantMessage map[ids.UserID][]byte
}

// Run executes all four steps. It is resumable: if it fails partway through
// the batch loop (step 3), calling Run again continues from wherever the
// server reports progress, since reencryption is resumable server-side.
func (r *Reencryption) Run(ctx context.Context) error {
	newRevision := r.OldEncryptionRevision + 1

	if err := r.startMaintenance(ctx, newRevision); err != nil {
		return errors.Wrap(err, "start reencryption maintenance")
	}

	if err := r.rekeyAllBatches(ctx, newRevision); err != nil {
		return errors.Wrap(err, "rekey batches")
	}

	if err := r.finishMaintenance(ctx, newRevision); err != nil {
		return errors.Wrap(err, "finish reencryption maintenance")
	}

	return nil
}

func (r *Reencryption) startMaintenance(ctx context.Context, newRevision uint32) error {
	status, err := r.Client.StartReencryptionMaintenance(ctx, MaintenanceBoundaryRequest{
		RealmID:               r.RealmID,
		EncryptionRevision:    newRevision,
		PerParticipantMessage: r.PerParticipantMessage,
	})
	if err != nil {
		return err
	}

	return statusErr(status)
}

func (r *Reencryption) finishMaintenance(ctx context.Context, newRevision uint32) error {
	status, err := r.Client.FinishReencryptionMaintenance(ctx, MaintenanceBoundaryRequest{
		RealmID:            r.RealmID,
		EncryptionRevision: newRevision,
	})
	if err != nil {
		return err
	}

	return statusErr(status)
}

// rekeyAllBatches loops fetch→rekey→save until the server reports
// done == total, per §4.7 step 3.
func (r *Reencryption) rekeyAllBatches(ctx context.Context, newRevision uint32) error {
	for {
		got, err := r.Client.GetReencryptionBatch(ctx, ReencryptionBatchGetRequest{
			RealmID:            r.RealmID,
			EncryptionRevision: r.OldEncryptionRevision,
			Size:               batchSize,
		})
		if err != nil {
			return err
		}

		if err := statusErr(got.Status); err != nil {
			return err
		}

		if len(got.Batch) == 0 {
			return nil
		}

		rekeyed, err := r.rekeyBatch(ctx, got.Batch)
		if err != nil {
			return err
		}

		saved, err := r.Client.SaveReencryptionBatch(ctx, ReencryptionBatchSaveRequest{
			RealmID:            r.RealmID,
			EncryptionRevision: newRevision,
			Batch:              rekeyed,
		})
		if err != nil {
			return err
		}

		if err := statusErr(saved.Status); err != nil {
			return err
		}

		if saved.Done >= saved.Total {
			return nil
		}
	}
}

// rekeyBatch decrypts every item with the old key and encrypts with the new
// one, fanning the CPU-bound work out across reencryptWorkers goroutines.
func (r *Reencryption) rekeyBatch(ctx context.Context, batch []ReencryptionBatchItem) ([]ReencryptionBatchItem, error) {
	out := make([]ReencryptionBatchItem, len(batch))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(reencryptWorkers)

	for i, item := range batch {
		i, item := i, item

		g.Go(func() error {
			plaintext, err := crypto.Open(r.OldKey, item.Blob)
			if err != nil {
				return errors.Wrapf(err, "decrypt vlob %s v%d under old key", item.VlobID, item.Version)
			}

			resealed, err := crypto.Seal(r.NewKey, plaintext)
			if err != nil {
				return errors.Wrapf(err, "encrypt vlob %s v%d under new key", item.VlobID, item.Version)
			}

			out[i] = ReencryptionBatchItem{VlobID: item.VlobID, Version: item.Version, Blob: resealed}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func statusErr(s Status) error {
	if s == StatusOK || s == "" {
		return nil
	}

	return ErrForStatus(s, "realm service rejected request")
}

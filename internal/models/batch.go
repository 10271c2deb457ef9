package models

import (
	"sort"

	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// BatchKind names a batch operation.
type BatchKind string

const (
	BatchDelete   BatchKind = "delete"
	BatchMove     BatchKind = "move"
	BatchArchive  BatchKind = "archive"
	BatchMarkRead BatchKind = "markRead"
	BatchStar     BatchKind = "star"
)

// BatchOperation is one operation applied to every UID of a batch.
// Target is used by move; Value by markRead and star.
type BatchOperation struct {
	Kind   BatchKind `json:"kind"`
	Target string    `json:"target,omitempty"`
	Value  bool      `json:"value"`
}

// BatchResult is the per-item outcome of a batch.
type BatchResult struct {
	Attempted []uint32          `json:"attempted"`
	Succeeded []uint32          `json:"succeeded"`
	Failed    map[uint32]error  `json:"-"`
	Moved     map[uint32]uint32 `json:"moved,omitempty"`
}

// NewBatchResult returns an empty result ready to be filled.
func NewBatchResult() *BatchResult {
	return &BatchResult{
		Attempted: []uint32{},
		Succeeded: []uint32{},
		Failed:    make(map[uint32]error),
	}
}

// Succeed records uid as successfully processed.
func (r *BatchResult) Succeed(uid uint32) {
	r.Succeeded = append(r.Succeeded, uid)
}

// Fail records uid as failed with err.
func (r *BatchResult) Fail(uid uint32, err error) {
	r.Failed[uid] = err
}

// RecordMove records that uid now lives under newUID in the target folder.
func (r *BatchResult) RecordMove(uid, newUID uint32) {
	if r.Moved == nil {
		r.Moved = make(map[uint32]uint32)
	}
	r.Moved[uid] = newUID
}

// FailureReasons returns the failure reason of each failed UID.
func (r *BatchResult) FailureReasons() map[uint32]string {
	reasons := make(map[uint32]string, len(r.Failed))
	for uid, err := range r.Failed {
		reasons[uid] = mailerr.Reason(err)
	}
	return reasons
}

// FailedUIDs returns the failed UIDs in ascending order.
func (r *BatchResult) FailedUIDs() []uint32 {
	uids := make([]uint32, 0, len(r.Failed))
	for uid := range r.Failed {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

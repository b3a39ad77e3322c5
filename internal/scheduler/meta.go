package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// jobMeta is the metadata snapshot persisted next to the result on every
// terminal state. It survives process restarts when the in-memory record
// does not, so operators can reconstruct what a stored video came from.
type jobMeta struct {
	JobID     string            `json:"job_id"`
	Status    job.Status        `json:"status"`
	Backend   string            `json:"backend"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Progress  float64           `json:"progress"`
	Message   string            `json:"message"`
	Error     string            `json:"error,omitempty"`
	ImageRef  storage.Ref       `json:"image_ref,omitempty"`
	AudioRef  storage.Ref       `json:"audio_ref,omitempty"`
	Script    string            `json:"script,omitempty"`
	ResultRef storage.Ref       `json:"result_ref,omitempty"`
	VideoURL  string            `json:"video_url,omitempty"`
	Options   generator.Options `json:"options"`
}

// writeMeta stores the job.json snapshot for a terminal record.
func (s *Scheduler) writeMeta(j *job.Job) error {
	snap := j.Clone()

	meta := jobMeta{
		JobID:     snap.ID,
		Status:    snap.Status,
		Backend:   snap.Backend,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
		Progress:  snap.Progress,
		Message:   snap.Message,
		Error:     snap.Error,
		ImageRef:  snap.ImageRef,
		AudioRef:  snap.AudioRef,
		Script:    snap.Script,
		ResultRef: snap.ResultRef,
		VideoURL:  snap.VideoURL,
		Options:   snap.Options,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	_, err = s.store.Put(context.Background(), storage.MetaRef(snap.ID), bytes.NewReader(data))
	return err
}

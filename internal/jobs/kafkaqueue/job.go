package kafkaqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Job is the wire form of one "process this layer" request.
type Job struct {
	JobID       string    `json:"job_id"`
	LayerID     uint64    `json:"layer_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewJob(layerID uint64, now time.Time) Job {
	return Job{JobID: uuid.NewString(), LayerID: layerID, RequestedAt: now.UTC()}
}

// Key partitions jobs by layer so one layer's jobs are consumed in order
// by a single member.
func (j Job) Key() string { return strconv.FormatUint(j.LayerID, 10) }

func (j Job) Validate() error {
	if j.LayerID == 0 {
		return errors.New("layer_id is required")
	}
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	return nil
}

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, fmt.Errorf("validate: %w", err)
	}
	return j, nil
}

// Package jobs defines the payload and result contract shared by the job
// producer and the worker. Payloads are a versioned tagged union per job
// type, stored as jsonb on the job row and decoded at the worker boundary.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/store/model"
)

const PayloadVersion = 1

type StageGeneratePayload struct {
	Version int               `json:"version"`
	Stage   string            `json:"stage" validate:"required"`
	Preset  string            `json:"preset" validate:"omitempty,oneof=fast balanced quality"`
	Inputs  map[string]string `json:"inputs,omitempty"`
}

type DocumentGeneratePayload struct {
	Version int               `json:"version"`
	Preset  string            `json:"preset" validate:"omitempty,oneof=fast balanced quality"`
	Inputs  map[string]string `json:"inputs,omitempty"`
}

type FileProcessPayload struct {
	Version  int    `json:"version"`
	FileName string `json:"file_name" validate:"required"`
	FileData []byte `json:"file_data" validate:"required"`
}

// StageResult is written on completion of a single-stage job.
type StageResult struct {
	Message   string    `json:"message"`
	OutputID  uuid.UUID `json:"output_id"`
	VersionID uuid.UUID `json:"version_id"`
	Version   int       `json:"version"`
}

// DocumentResult is written after every section of a document job so status
// pollers can show live progress, and finalized with the aggregate counts.
type DocumentResult struct {
	Message       string    `json:"message"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
	LatestVersion int       `json:"latest_version,omitempty"`
	OutputID      uuid.UUID `json:"output_id,omitempty"`
}

type FileProcessResult struct {
	Message   string `json:"message"`
	RowsTotal int    `json:"rows_total"`
	RowsBad   int    `json:"rows_bad"`
}

// Payload is implemented by every job payload variant.
type Payload interface {
	JobType() string
}

func (StageGeneratePayload) JobType() string    { return model.JobTypeStageGenerate }
func (DocumentGeneratePayload) JobType() string { return model.JobTypeDocumentGenerate }
func (FileProcessPayload) JobType() string      { return model.JobTypeFileProcess }

func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func EncodeResult(r any) []byte {
	data, _ := json.Marshal(r)
	return data
}

// DecodeStagePayload decodes the payload of stage.generate and
// stage.regenerate jobs, which share a shape.
func DecodeStagePayload(raw []byte) (StageGeneratePayload, error) {
	var p StageGeneratePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding stage payload: %w", err)
	}
	if p.Preset == "" {
		p.Preset = PresetBalanced
	}
	return p, nil
}

func DecodeDocumentPayload(raw []byte) (DocumentGeneratePayload, error) {
	var p DocumentGeneratePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding document payload: %w", err)
	}
	if p.Preset == "" {
		p.Preset = PresetBalanced
	}
	return p, nil
}

func DecodeFilePayload(raw []byte) (FileProcessPayload, error) {
	var p FileProcessPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding file payload: %w", err)
	}
	return p, nil
}

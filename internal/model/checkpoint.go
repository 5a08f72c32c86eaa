package model

// ScanPolicy restricts which scan modality a checkpoint expects.
type ScanPolicy string

const (
	ScanHybrid  ScanPolicy = "hybrid"
	ScanQROnly  ScanPolicy = "qr_only"
	ScanNFCOnly ScanPolicy = "nfc_only"
)

// CheckpointStatus is the roadmap-side state of a checkpoint.
type CheckpointStatus string

const (
	CheckpointPending   CheckpointStatus = "pending"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointSkipped   CheckpointStatus = "skipped"
)

// ScanMethod is the modality that matched a scan.
type ScanMethod string

const (
	MethodQR  ScanMethod = "qr"
	MethodNFC ScanMethod = "nfc"
)

// Checkpoint is one stop of a security round, read-only for the agent.
type Checkpoint struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name,omitempty" yaml:"name,omitempty"`
	SequenceOrder int              `json:"sequence_order" yaml:"sequence_order"`
	Code          string           `json:"code" yaml:"code"`
	NFCTagID      string           `json:"nfc_tag_id,omitempty" yaml:"nfc_tag_id,omitempty"`
	ScanPolicy    ScanPolicy       `json:"scan_policy,omitempty" yaml:"scan_policy,omitempty"`
	Status        CheckpointStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// Roadmap is the ordered list of checkpoints assigned for a round.
type Roadmap struct {
	AssignmentID int64        `json:"assignment_id" yaml:"assignment_id"`
	Checkpoints  []Checkpoint `json:"checkpoints" yaml:"checkpoints"`
}

package bus

// Event payloads exchanged between stages. All cross-stage state travels
// through these payloads or the document store; stages share no in-memory
// state.

// DocumentEvent announces a newly persisted document on TopicDocumentNew.
// Watch discovery and manual upload publish the identical shape so that
// downstream stages cannot distinguish the two origins.
type DocumentEvent struct {
	DocumentID string `json:"document_id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	PDFURL     string `json:"pdf_url,omitempty"`
}

// AnalysisEvent announces a completed policy comparison on
// TopicAnalysisComplete, regardless of how many diffs were found.
type AnalysisEvent struct {
	DocumentID string `json:"document_id"`
	DiffCount  int    `json:"diff_count"`
}

// ScoreEvent announces a new score snapshot on TopicScoreUpdated.
type ScoreEvent struct {
	SnapshotID string  `json:"snapshot_id"`
	Score      float64 `json:"score"`
	Delta      float64 `json:"delta"`
}

// AlertEvent announces a persisted alert on TopicAlertCreated.
type AlertEvent struct {
	AlertID  string `json:"alert_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// AnomalyEvent announces a synthesized transaction anomaly on
// TopicAnomalyDetected.
type AnomalyEvent struct {
	AlertID     string `json:"alert_id"`
	AnomalyType string `json:"anomaly_type"`
}

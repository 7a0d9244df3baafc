package domain

// EvaluateRequest asks the backend to score one output against a goal.
type EvaluateRequest struct {
	Goal          string `json:"goal"`
	Output        string `json:"output"`
	RubricVersion string `json:"rubric_version"`
}

// EvaluateResponse is the backend's quality verdict.
type EvaluateResponse struct {
	QualityScore float64  `json:"quality_score"`
	DeltaScore   float64  `json:"delta_score"`
	RobustPct    float64  `json:"robust_pct"`
	CacheHit     bool     `json:"cache_hit"`
	TimeMS       float64  `json:"time_ms"`
	RoutingPath  string   `json:"routing_path"`
	Violations   []string `json:"violations"`
}

// MutateRequest asks the backend for a workflow variant. Arm is optional.
type MutateRequest struct {
	Goal            string  `json:"goal"`
	CurrentWorkflow string  `json:"current_workflow"`
	Arm             *string `json:"arm"`
}

type MutateResponse struct {
	VariantID  string  `json:"variant_id"`
	Arm        string  `json:"arm"`
	DeltaScore float64 `json:"delta_score"`
	Novelty    float64 `json:"novelty"`
	Workflow   string  `json:"workflow"`
}

type BanditStatus struct {
	ArmCounts  map[string]int     `json:"arm_counts"`
	ArmRewards map[string]float64 `json:"arm_rewards"`
	TotalPulls int                `json:"total_pulls"`
}

// MemorySnapshotRequest is the body of a snapshot creation call.
type MemorySnapshotRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type MemorySnapshot struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Note      string  `json:"note"`
	Timestamp float64 `json:"timestamp"`
}

type WorkflowDAG struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

type WorkflowNode struct {
	ID       string   `json:"id"`
	NodeType string   `json:"node_type"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type WorkflowEdge struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Label *string `json:"label"`
}

type TelemetryMetrics struct {
	TokensPerSec float64           `json:"tokens_per_sec"`
	DeltaScore   float64           `json:"delta_score"`
	CacheHitRate float64           `json:"cache_hit_rate"`
	RobustPct    float64           `json:"robust_pct"`
	MemoryUseMB  float64           `json:"memory_use_mb"`
	ModuleStatus map[string]string `json:"module_status"`
}

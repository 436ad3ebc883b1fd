package rpc

// ShotRequest asks for a screenshot of one dynamic.
type ShotRequest struct {
	DynamicID string `json:"dynamic_id"`
}

// ShotResult carries either an image or a classified failure. PNGImage is
// empty whenever Code is not "ok".
type ShotResult struct {
	PNGImage  []byte `json:"png_image"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type QueueStatsResult struct {
	Pending   int    `json:"pending"`
	MaxDepth  int    `json:"max_depth"`
	Running   bool   `json:"running"`
	Current   string `json:"current,omitempty"`
	Processed int64  `json:"processed"`
	Rejected  int64  `json:"rejected"`
	Closed    bool   `json:"closed"`
}

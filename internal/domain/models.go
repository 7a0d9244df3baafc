package domain

// ModelEntry is one installed entry reported by the inference service inventory.
type ModelEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// ModelInventory is the body of the inference service inventory endpoint.
type ModelInventory struct {
	Models []ModelEntry `json:"models"`
}

package api

import "github.com/samcharles93/graft/pkg/graft"

// ForwardRequest is the body of POST /v1/forward.
type ForwardRequest struct {
	InputIDs      []int `json:"input_ids"`
	AttentionMask []int `json:"attention_mask,omitempty"`
	// Adapters selects the active set for this request only. Omitted means
	// the model's global activation state; an empty list runs the base model.
	Adapters *[]string `json:"adapters,omitempty"`
}

type ForwardResponse struct {
	ID       string      `json:"id"`
	Object   string      `json:"object"`
	Created  int64       `json:"created"`
	Adapters []string    `json:"adapters"`
	Outputs  [][]float32 `json:"outputs"`
}

type AdapterList struct {
	Object string              `json:"object"`
	Data   []graft.AdapterInfo `json:"data"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

package main

type WsBaseMessage struct {
	Type string `json:"type"`
}

type WsQueueUpdate struct {
	WsBaseMessage
	Clips []Clip `json:"clips"`
}

type WsWorkerProgress struct {
	WsBaseMessage
	Worker WorkerInfo `json:"worker"`
}

type WsLossUpdate struct {
	WsBaseMessage
	RunID        string             `json:"runId"`
	Step         int                `json:"step"`
	LearningRate float64            `json:"learningRate"`
	Frozen       bool               `json:"frozen"`
	Losses       map[string]float64 `json:"losses"`
}

type WsTrainingState struct {
	WsBaseMessage
	RunID   string `json:"runId"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

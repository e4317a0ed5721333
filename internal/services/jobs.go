package services

import "encoding/json"

// Durable job names. Services enqueue them through Outcome actions; the jobs
// package registers the matching handlers.
const (
	JobCompileSitterOptions = "compile-sitter-options"
	JobRetrySitterOutreach  = "retry-sitter-outreach"
	JobDialVoiceJob         = "dial-voice-job"
	JobRetentionCleanup     = "retention-cleanup"
)

// TaskJobPayload is the payload of the compile and retry jobs.
type TaskJobPayload struct {
	TaskID string `json:"task_id"`
}

// VoiceJobPayload is the payload of the dial job.
type VoiceJobPayload struct {
	VoiceJobID string `json:"voice_job_id"`
}

func taskPayload(taskID string) string {
	b, _ := json.Marshal(TaskJobPayload{TaskID: taskID})
	return string(b)
}

func voicePayload(voiceJobID string) string {
	b, _ := json.Marshal(VoiceJobPayload{VoiceJobID: voiceJobID})
	return string(b)
}

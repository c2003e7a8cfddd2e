package model

// Job is the remote service's representation of a job.
type Job struct {
	ID          string `json:"_id,omitempty"`
	Machine     string `json:"machine"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// LogLine is one relayed line as returned by the remote service.
type LogLine struct {
	JobID string `json:"jobId"`
	Line  string `json:"line"`
}

// NewLogLine is the body of a line submission.
type NewLogLine struct {
	JobName string `json:"jobName"`
	Line    string `json:"line"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Token struct {
	Auth  bool   `json:"auth"`
	Token string `json:"token"`
}

// ServerError is the body the remote service sends along with a failure status.
type ServerError struct {
	Auth    *bool  `json:"auth,omitempty"`
	Message string `json:"message"`
}

package model

// ExecutionErrorPrefix tags every error captured from running instrumented code.
const ExecutionErrorPrefix = "Execution Error : "

// RunRecord is the working state threaded through one orchestration.
//
// VALUE SEMANTICS:
// Steps receive a RunRecord by value and return a new one; nothing holds a
// pointer to a record that another step could mutate. The only field that
// shares memory between copies is Tests (slices), and Tests is never
// modified after the test step produces it.
type RunRecord struct {
	Requirement string        `json:"requirement"`
	Code        string        `json:"code"`
	Tests       TestVectorSet `json:"tests"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retryCount"`
	Success     bool          `json:"success"`
}

// NewRunRecord starts a record from the first generated code.
func NewRunRecord(requirement, code string) RunRecord {
	return RunRecord{
		Requirement: requirement,
		Code:        code,
	}
}

// HasError reports whether the last execution left an error behind.
func (r RunRecord) HasError() bool {
	return r.Error != ""
}

package errors

// Report is the machine-readable form of a failure, printed when the CLI
// runs with a structured output format
type Report struct {
	// Error contains the error code (domain.code format)
	Error string `json:"error" yaml:"error"`

	// Message contains a human-readable error message
	Message string `json:"message" yaml:"message"`

	// ExitCode is the process exit status
	ExitCode int `json:"exit_code" yaml:"exit_code"`

	// Details contains optional additional error details
	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// ToReport converts an Error to a report structure
func (e *Error) ToReport() Report {
	r := Report{
		Error:    string(e.Domain) + "." + string(e.Code),
		Message:  e.Message,
		ExitCode: e.ExitCode,
	}
	if e.cause != nil {
		r.Details = map[string]interface{}{"cause": e.cause.Error()}
	}
	if e.Detail != 0 {
		if r.Details == nil {
			r.Details = map[string]interface{}{}
		}
		r.Details["detail"] = e.Detail
	}
	return r
}

// NewReport creates a report from any error.
// Errors that are not an *Error become a generic internal report.
func NewReport(err error) Report {
	var e *Error
	if As(err, &e) {
		return e.ToReport()
	}
	return Report{
		Error:    string(DomainInternal) + "." + string(CodeInternal),
		Message:  err.Error(),
		ExitCode: ExitGeneric,
	}
}

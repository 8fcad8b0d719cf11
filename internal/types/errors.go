package types

// Error codes returned by the REST API. The numeric suffix is the HTTP status.
const (
	CodeBadRequest      = "ARM_400"
	CodeAccessDenied    = "ARM_403"
	CodeNotFound        = "ARM_404"
	CodeInternal        = "ARM_500"
	CodeDeviceRejected  = "DEVICE_422"
	CodeDeviceCorrupt   = "DEVICE_502"
	CodeDeviceDown      = "DEVICE_503"
	CodeDeviceTimeout   = "DEVICE_504"
	CodeSwitchFailed    = "PROTOCOL_409"
	CodeMachineRequest  = "MACHINE_400"
	CodeMachineConflict = "MACHINE_409"
	CodeSystem          = "SYSTEM_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

package devhandler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ehrlich-b/go-devhandler/internal/constants"
)

// HandlerParams contains the tunables shared by the block handlers
type HandlerParams struct {
	// MaxProbeAttempts bounds the capacity query while unit attentions persist (default: 3)
	MaxProbeAttempts int `mapstructure:"max_probe_attempts" validate:"min=1,max=64" yaml:"max_probe_attempts"`

	// ProbeTimeout bounds each capacity query attempt (default: 60s)
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0" yaml:"probe_timeout"`

	// ProbeTransportRetries is handed to the executor for each probe attempt (default: 3)
	ProbeTransportRetries int `mapstructure:"probe_transport_retries" validate:"min=0,max=16" yaml:"probe_transport_retries"`

	// PassthroughRetries is stamped on every parsed command (default: 0)
	PassthroughRetries int `mapstructure:"passthrough_retries" validate:"min=0,max=16" yaml:"passthrough_retries"`

	// ResponseBufferSize is the capacity query scratch buffer size in bytes (default: 512)
	ResponseBufferSize int `mapstructure:"response_buffer_size" validate:"min=8,max=65536" yaml:"response_buffer_size"`
}

// DefaultParams returns default handler parameters
func DefaultParams() HandlerParams {
	return HandlerParams{
		MaxProbeAttempts:      constants.DefaultUARetries,
		ProbeTimeout:          constants.DefaultProbeTimeout,
		ProbeTransportRetries: constants.DefaultProbeTransportRetries,
		PassthroughRetries:    constants.DefaultPassthroughRetries,
		ResponseBufferSize:    constants.ResponseBufferSize,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the parameters against their documented bounds
func (p HandlerParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return NewError("validate", ErrCodeInvalidParameters, describeValidation(err))
	}
	return nil
}

// describeValidation flattens validator errors into one line
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on the '%s' tag (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return strings.Join(msgs, "; ")
}

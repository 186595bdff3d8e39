package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a single shared validator instance; per the library's own
// docs it caches struct reflection and is safe for concurrent use, so
// every TriggerPayload validated by this process reuses it.
var validate = validator.New()

// TriggerPayload is the struct-tag-validated shape of an inbound trigger
// payload: services and resource_ids are
// optional (the Correlator/Orchestrator fall back to configured
// defaults), but when present each must be a non-empty, bounded string,
// and lookback_minutes must sit in the Correlator's accepted [2,1440]
// range.
type TriggerPayload struct {
	Services        []string `json:"services,omitempty" validate:"omitempty,max=50,dive,required,max=128"`
	ResourceIDs     []string `json:"resource_ids,omitempty" validate:"omitempty,max=100,dive,required,max=256"`
	LookbackMinutes int      `json:"lookback_minutes,omitempty" validate:"omitempty,min=2,max=1440"`
}

// ValidateTriggerPayload checks p against its struct tags, joining every
// violation into one error (mirroring ValidateResourceReference's
// accumulate-then-join shape) rather than returning only the first.
func ValidateTriggerPayload(p TriggerPayload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q constraint", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

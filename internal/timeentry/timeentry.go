// Package timeentry validates the shape of a Time Entry before it
// reaches the Sync Reconciler (spec.md §3): coordinate bounds,
// accuracy bounds, and entry-kind enum membership.
//
// Grounded on the teacher's webserver handler pattern of
// `binding:"required"` struct tags, generalized to a standalone
// Validate() method — sync push payloads arrive over the mobile sync
// path rather than gin JSON binding, so tag validation needs a caller
// that isn't a gin handler.
package timeentry

import (
	"github.com/go-playground/validator/v10"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

var validate = validator.New()

// Submission is the tagged, bindable shape of one pushed Time Entry,
// mirroring sync.TimeEntryPayload's fields with validator/v10 tags
// attached.
type Submission struct {
	Kind            models.EntryKind `validate:"required,oneof=ClockIn ClockOut Pause Resume CheckIn"`
	Tenant          string           `validate:"required"`
	Branch          string           `validate:"required"`
	ClientID        string           `validate:"required"`
	Caregiver       string           `validate:"required"`
	StateCode       string           `validate:"omitempty,len=2"`
	ServiceTypeCode string           `validate:"omitempty"`
	Latitude        float64          `validate:"required,min=-90,max=90"`
	Longitude       float64          `validate:"required,min=-180,max=180"`
	Accuracy        float64          `validate:"min=0,max=10000"`
	ServiceDate     string           `validate:"required,datetime=2006-01-02"`
}

// Validate runs the struct tags above and translates the first
// failure into the module's error taxonomy.
func Validate(s Submission) error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.New(errors.KindInputValidation, "time_entry_invalid", "time entry field failed validation").
				WithField("field", first.Field()).WithField("tag", first.Tag())
		}
		return errors.Wrap(errors.KindInputValidation, "time_entry_invalid", "time entry failed validation", err)
	}
	return nil
}

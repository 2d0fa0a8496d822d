package jobflow

import (
	"context"

	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Fax is the high-level fax transmission service.
type Fax struct {
	*Device
}

// NewFax builds the fax device around the given dependencies.
func NewFax(deps Deps) *Fax {
	return &Fax{Device: newDevice(job.ServiceFax, faxProfile(), deps)}
}

// Send starts a fax transmission job.
func (f *Fax) Send(ctx context.Context, options map[string]any, cb Callbacks, userInfo any) error {
	if !f.checkStartAllowed() {
		return ErrNotStartable
	}
	f.setCallbacks(cb)
	return f.startJob(ctx, f.createJob(options, userInfo))
}

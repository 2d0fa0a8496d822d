package jobflow

import (
	"context"

	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Copier is the high-level copy service.
type Copier struct {
	*Device
}

// NewCopier builds the copy device around the given dependencies.
func NewCopier(deps Deps) *Copier {
	return &Copier{Device: newDevice(job.ServiceCopy, copyProfile(), deps)}
}

// Copy starts a copy job.
func (c *Copier) Copy(ctx context.Context, options map[string]any, cb Callbacks, userInfo any) error {
	if !c.checkStartAllowed() {
		return ErrNotStartable
	}
	c.setCallbacks(cb)
	return c.startJob(ctx, c.createJob(options, userInfo))
}

package app

import (
	"context"

	"github.com/trvslhlt/live-audio-translator/internal/pipeline"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

// Controller is the part of pipeline.Controller the front end uses
type Controller interface {
	Start(ctx context.Context, opts pipeline.StartOptions) error
	Stop(ctx context.Context) (PendingSave, error)
	Status() pipeline.Status
	Events() <-chan pipeline.Event
}

// PendingSave is a stopped session awaiting a destination
type PendingSave interface {
	Session() *session.Session
	AudioSeconds() float64
	Save(parent, title string, progress session.ProgressFunc) (string, error)
	Discard() error
}

// FromPipeline adapts a pipeline.Controller
func FromPipeline(c *pipeline.Controller) Controller {
	return pipelineController{c}
}

type pipelineController struct {
	*pipeline.Controller
}

func (c pipelineController) Stop(ctx context.Context) (PendingSave, error) {
	p, err := c.Controller.Stop(ctx)
	if err != nil || p == nil {
		// keep a nil *PendingSave from becoming a non-nil interface
		return nil, err
	}
	return p, nil
}

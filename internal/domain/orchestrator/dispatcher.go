package orchestrator

import (
	"github.com/fathomsec/fathom/internal/domain/page"
)

// pushDispatcher is the module.Dispatcher / plugin push surface handed to
// every module, timing op and plugin run. It forwards straight into the
// orchestrator's own PushURL/PushPage so user-supplied code has no
// privileged access beyond what a caller of PushURL/PushPage would have.
type pushDispatcher struct {
	o *Orchestrator
}

func (d pushDispatcher) PushURL(url string)    { d.o.PushURL(url) }
func (d pushDispatcher) PushPage(p *page.Page) { d.o.PushPage(p) }

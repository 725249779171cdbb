package av

import "github.com/opd-ai/rtpsend/media"

// Stage is one processing element of a subgraph.
//
// Process consumes a buffer and returns zero or more buffers for the next
// stage. A stage that keeps bytes past the call copies them.
type Stage interface {
	Name() string
	Caps() (sink, src media.Caps)
	Process(buf media.Buffer) ([]media.Buffer, error)
	Close() error
}

// Starter is implemented by stages that need work before the first buffer,
// such as launching a subprocess.
type Starter interface {
	Start() error
}

// Preroller is implemented by stages that complete their state change
// asynchronously. The channel delivers one value: nil once ready.
type Preroller interface {
	Preroll() <-chan error
}

// Stopper is implemented by stages that flush on teardown.
type Stopper interface {
	Stop() error
}

// Head is the live source as seen by the manager: the single attachment
// point feeding the active subgraph.
type Head interface {
	Link(pad media.Pad) error
	Unlink()
	Linked() bool
	SetFlushing(flushing bool)
	Descriptor() media.Descriptor
	SetTap(tap func(media.Buffer))
	SetDiscardUnlinked(discard bool)
}

// DemandSignaler is the feed protocol of a live source.
type DemandSignaler interface {
	RequestMoreData(sizeHint int)
	NotifyBackpressure()
}

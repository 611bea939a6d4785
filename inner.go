package imagestream

import "github.com/Skryldev/image-stream/core"

// Inner exposes the underlying core.Processor for advanced use (e.g., feed
// pacing overrides in tests).  Prefer the high-level API for normal usage.
func (p *Processor) Inner() *core.Processor { return p.inner }

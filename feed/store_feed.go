package feed

import "vibin_matcher/services"

// ChangeSource is a store that announces its committed changes
type ChangeSource interface {
	Subscribe(fn func(services.Change))
}

// SubscribeStore feeds every change committed to source into d
func SubscribeStore(source ChangeSource, d *Dispatcher) {
	source.Subscribe(d.Dispatch)
}

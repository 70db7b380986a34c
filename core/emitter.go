package orchestration

import "github.com/junavoice/juna-core/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

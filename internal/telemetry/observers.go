package telemetry

import "github.com/nerrad567/litecore/internal/executor"

// observers fans every call out in order.
type observers []executor.Observer

func (o observers) CommandFinished(s executor.CommandStats) {
	for _, obs := range o {
		obs.CommandFinished(s)
	}
}

func (o observers) Retried(reason string) {
	for _, obs := range o {
		obs.Retried(reason)
	}
}

// Combine returns an observer that forwards to every non-nil obs. It
// returns nil when none remain and the observer itself when one does.
func Combine(obs ...executor.Observer) executor.Observer {
	var out observers
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

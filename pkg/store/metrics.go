package store

import "talkie/pkg/telemetry"

func observe(o Outcome) {
	switch o {
	case Appended:
		telemetry.StoreAppends.Inc()
	case Merged:
		telemetry.StoreMerges.Inc()
	case Reconciled:
		telemetry.StoreReconciled.Inc()
	case Duplicate:
		telemetry.StoreDuplicates.Inc()
	}
}

func observeTombstone() {
	telemetry.StoreTombstones.Inc()
}

package common

// Component names scope the per-component loggers and are the valid
// keys of the logging.component_levels config map.
const (
	ComponentEmitter      = "emitter"
	ComponentAutoEmitter  = "autoemitter"
	ComponentRPCSource    = "rpc-source"
	ComponentBlockTracker = "block-tracker"
	ComponentBuffer       = "buffer"
	ComponentConfirmator  = "confirmator"
	ComponentProducer     = "producer"
	ComponentDispatcher   = "dispatcher"
	ComponentMaintenance  = "maintenance"
)

// AllComponents enumerates every valid component name, used to
// validate the keys of logging.component_levels.
var AllComponents = map[string]struct{}{
	ComponentEmitter:      {},
	ComponentAutoEmitter:  {},
	ComponentRPCSource:    {},
	ComponentBlockTracker: {},
	ComponentBuffer:       {},
	ComponentConfirmator:  {},
	ComponentProducer:     {},
	ComponentDispatcher:   {},
	ComponentMaintenance:  {},
}

package common

const (
	ComponentProcessor   = "processor"
	ComponentSource      = "source"
	ComponentDecoder     = "decoder"
	ComponentHandlers    = "handlers"
	ComponentStore       = "store"
	ComponentCheckpoint  = "checkpoint"
	ComponentMaintenance = "maintenance"
	ComponentNotifier    = "notifier"
)

var AllComponents = map[string]struct{}{
	ComponentProcessor:   {},
	ComponentSource:      {},
	ComponentDecoder:     {},
	ComponentHandlers:    {},
	ComponentStore:       {},
	ComponentCheckpoint:  {},
	ComponentMaintenance: {},
	ComponentNotifier:    {},
}

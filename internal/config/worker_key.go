package config

type WorkerKeyStruct struct {
	PersistAutosaveQueue   string
	PersistViolationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAutosaveQueue:   "persist_autosave_queue",
	PersistViolationsQueue: "persist_violations_queue",
}

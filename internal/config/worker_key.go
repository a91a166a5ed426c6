package config

type WorkerKeyStruct struct {
	PersistProgressQueue string
	PersistCheatsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue: "persist_progress_queue",
	PersistCheatsQueue:   "persist_cheats_queue",
}

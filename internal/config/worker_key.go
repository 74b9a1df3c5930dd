package config

type WorkerKeyStruct struct {
	// PersistDraftAnswersQueue carries autosaved answers to the attempt store.
	PersistDraftAnswersQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistDraftAnswersQueue: "persist_draft_answers_queue",
}

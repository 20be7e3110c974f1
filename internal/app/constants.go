package app

const (
	Name           = "xaescope"
	SourceURL      = "https://git.skobk.in/skobkin/xaescope"
	ConfigFilename = "config.json"
	DBFilename     = "journal.db"
	LogFilename    = "xaescope.log"
	WriterCapacity = 256
)

package unidata

import "github.com/zoobzio/capitan"

// Signals for provider lifecycle and data-access events.
var (
	InitStarted   = capitan.NewSignal("unidata.init.started", "Backend handshake initiated")
	InitCompleted = capitan.NewSignal("unidata.init.completed", "Backend handshake succeeded")
	InitFailed    = capitan.NewSignal("unidata.init.failed", "Backend handshake failed")

	QueryCompleted     = capitan.NewSignal("unidata.query.completed", "Read succeeded")
	QuerySwallowed     = capitan.NewSignal("unidata.query.swallowed", "Read failed, empty result returned")
	QueryClauseDropped = capitan.NewSignal("unidata.query.clause_dropped", "Unparseable where-clause ignored")
	QueryIndexFallback = capitan.NewSignal("unidata.query.index_fallback", "Server-side ordering unavailable, sorted in memory")

	WriteCompleted = capitan.NewSignal("unidata.write.completed", "Write succeeded")
	WriteSwallowed = capitan.NewSignal("unidata.write.swallowed", "Write failed, zero result returned")

	ResetCompleted = capitan.NewSignal("unidata.reset.completed", "Bulk delete completed")
)

// Field keys for event extraction.
var (
	FieldCollection = capitan.NewStringKey("collection")
	FieldOperation  = capitan.NewStringKey("operation")
	FieldError      = capitan.NewErrorKey("error")
	FieldDuration   = capitan.NewDurationKey("duration")
	FieldCount      = capitan.NewInt64Key("count")
	FieldClause     = capitan.NewStringKey("clause")
)

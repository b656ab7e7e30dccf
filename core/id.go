package core

import (
	"strings"

	"github.com/google/uuid"

	"pkt.systems/scrollback/schema"
)

func newTaskID() schema.TaskID {
	return schema.TaskID(uuid.NewString())
}

func newJobID() schema.JobID {
	return schema.JobID(uuid.NewString())
}

func newSessionID() schema.SessionID {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return schema.SessionID(id[:12])
}

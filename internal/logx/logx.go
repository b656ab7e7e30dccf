package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	taskKey
	jobKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithTask annotates the logger with task id and kind.
func WithTask(ctx context.Context, taskID schema.TaskID, kind schema.TaskKind) pslog.Logger {
	log := pslog.Ctx(ctx)
	if taskID == "" {
		return log
	}
	if current, ok := ctx.Value(taskKey).(schema.TaskID); ok && current == taskID {
		return log
	}
	log = log.With("task", taskID)
	if kind != "" {
		log = log.With("kind", kind)
	}
	return log
}

// WithJob annotates the logger with session and job identifiers.
func WithJob(ctx context.Context, sessionID schema.SessionID, jobID schema.JobID) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if jobID != "" {
		if current, ok := ctx.Value(jobKey).(schema.JobID); ok && current == jobID {
			return log
		}
		log = log.With("job", jobID)
	}
	return log
}

// WithDestination annotates the logger with export destination metadata.
func WithDestination(log pslog.Logger, dest schema.Destination) pslog.Logger {
	if dest.URL != "" {
		log = log.With("dest", dest.URL)
	}
	if dest.Format != "" {
		log = log.With("format", dest.Format)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithTask stores the task marker on the context for log de-duplication.
func ContextWithTask(ctx context.Context, taskID schema.TaskID) context.Context {
	if ctx == nil || taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, taskID)
}

// ContextWithJob stores the job marker on the context for log de-duplication.
func ContextWithJob(ctx context.Context, jobID schema.JobID) context.Context {
	if ctx == nil || jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey, jobID)
}

// ContextWithTaskLogger attaches the logger and task marker to the context.
func ContextWithTaskLogger(ctx context.Context, log pslog.Logger, taskID schema.TaskID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTask(ctx, taskID)
}

// ContextWithJobLogger attaches the logger and session/job markers to the context.
func ContextWithJobLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID, jobID schema.JobID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithJob(ContextWithSession(ctx, sessionID), jobID)
}

// CopyContextFields copies session/task/job markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	if task, ok := src.Value(taskKey).(schema.TaskID); ok && task != "" {
		dst = ContextWithTask(dst, task)
	}
	if job, ok := src.Value(jobKey).(schema.JobID); ok && job != "" {
		dst = ContextWithJob(dst, job)
	}
	return dst
}

package audit

import (
	"context"
	"strings"

	"github.com/ICShapy/shapy/pkg/log"
)

// Audit actions for the edit service.
const (
	ActionJoin    = "scene.join"
	ActionView    = "scene.view"
	ActionLeave   = "scene.leave"
	ActionDenied  = "scene.denied"
	ActionRename  = "scene.rename"
	ActionLock    = "scene.lock"
	ActionUnlock  = "scene.unlock"
	ActionRelease = "scene.release"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, sceneID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, sceneID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, sceneID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, sceneID).
		Str(FieldDetail, detail).
		Msg(msg)
}

// Objects formats object IDs for the detail field.
func Objects(ids []string) string {
	return strings.Join(ids, ",")
}

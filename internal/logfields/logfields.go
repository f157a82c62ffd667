// Package logfields defines canonical log field name constants to avoid drift across packages.
package logfields

import "log/slog"

const (
	KeyLevel      = "level"
	KeyContextID  = "context_id"
	KeyParentID   = "parent_id"
	KeyOwnerID    = "owner_id"
	KeyAction     = "action"
	KeyConnID     = "connection_id"
	KeySequence   = "sequence"
	KeySource     = "source"
	KeyBatchSize  = "batch_size"
	KeyCacheKey   = "cache_key"
	KeyDurationMS = "duration_ms"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Level(l string) slog.Attr         { return slog.String(KeyLevel, l) }
func ContextID(id string) slog.Attr    { return slog.String(KeyContextID, id) }
func ParentID(id string) slog.Attr     { return slog.String(KeyParentID, id) }
func OwnerID(id string) slog.Attr      { return slog.String(KeyOwnerID, id) }
func Action(a string) slog.Attr        { return slog.String(KeyAction, a) }
func ConnID(id string) slog.Attr       { return slog.String(KeyConnID, id) }
func Sequence(n uint64) slog.Attr      { return slog.Uint64(KeySequence, n) }
func Source(s string) slog.Attr        { return slog.String(KeySource, s) }
func BatchSize(n int) slog.Attr        { return slog.Int(KeyBatchSize, n) }
func CacheKey(k string) slog.Attr      { return slog.String(KeyCacheKey, k) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

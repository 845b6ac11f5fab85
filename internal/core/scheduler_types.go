package core

import sch "venuebot/internal/services/scheduler"

// Re-export scheduler types for the plugin SDK.
type TaskOptions = sch.TaskOptions
type Snapshot = sch.Snapshot
type ScheduleInfo = sch.ScheduleInfo
type HistoryItem = sch.HistoryItem

// Schedule parsing helpers (re-exported for plugins).
type ScheduleKind = sch.SpecKind
type ParsedSchedule = sch.ParsedSpec

const (
	ScheduleCron     = sch.SpecCron
	ScheduleInterval = sch.SpecInterval
)

func ParseSchedule(raw string) (ParsedSchedule, error) {
	return sch.ParseSchedule(raw)
}

// ParseClock parses "HH:MM" or "HH:MM:SS" wall-clock strings.
func ParseClock(raw string) (hour, minute, second int, err error) {
	return sch.ParseClock(raw)
}

const (
	OverlapAllow         = sch.OverlapAllow
	OverlapSkipIfRunning = sch.OverlapSkipIfRunning
)

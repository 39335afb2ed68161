package alarm

// Repository is the storage contract for alarms. Implementations must make
// every acknowledged mutation durable and must never expose a partially
// applied mutation to readers.
type Repository interface {
	// ListAlarms returns a point-in-time copy of all alarms.
	ListAlarms() []Alarm

	// GetAlarm returns a copy of one alarm or shared.ErrAlarmNotFound.
	GetAlarm(id string) (Alarm, error)

	// UpsertAlarm inserts or replaces an alarm.
	UpsertAlarm(a Alarm) error

	// RemoveAlarm deletes an alarm or returns shared.ErrAlarmNotFound.
	RemoveAlarm(id string) error

	// UpdateAlarm applies fn to the stored alarm under the write lock and
	// persists the result. If fn returns an error nothing is changed.
	UpdateAlarm(id string, fn func(a *Alarm) error) (Alarm, error)
}

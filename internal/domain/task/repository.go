package task

// Repository is the storage contract for tasks.
type Repository interface {
	ListTasks() []Task
	GetTask(id string) (Task, error)
	UpsertTask(t Task) error
	RemoveTask(id string) error
	UpdateTask(id string, fn func(t *Task) error) (Task, error)
}

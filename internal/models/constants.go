package models

import "time"

const (
	// DefaultHoldWindow is how long an unpaid hold survives before the sweeps reclaim it.
	DefaultHoldWindow = 30 * time.Minute

	// DefaultSweepInterval период запуска фоновой очистки
	DefaultSweepInterval = time.Minute

	// DefaultSweepBatchSize максимальное число записей за один проход
	DefaultSweepBatchSize = 100

	// MaxBookingDays ограничивает длину одного бронирования
	MaxBookingDays = 90

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// DefaultRateLimitRequests запросов пользователя в окне
	DefaultRateLimitRequests = 30

	// DefaultRateLimitWindow окно ограничения частоты
	DefaultRateLimitWindow = time.Minute
)

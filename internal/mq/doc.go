// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending    — новый run ожидает раскрытия
//   - job.ready      — job instance готов к выполнению
//   - job.completed  — job instance завершён runner'ом
//
// Exchanges:
//   - conveyor.runs — события runs
//   - conveyor.jobs — события job instances
//   - conveyor.dlq  — dead letter queue
package mq

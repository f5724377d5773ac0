// Package api — HTTP API для управления runs.
//
// Endpoints:
//   - Pipelines: список и просмотр загруженных определений
//   - Runs: запуск, просмотр, отмена, instances
//   - Schedules: просмотр и включение/выключение
//
// Определения pipelines read-only: источник — YAML-файлы,
// редактирование через API не поддерживается.
package api

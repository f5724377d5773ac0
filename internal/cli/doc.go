// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI совмещает два режима работы:
//   - Локальный: выполнение pipeline на машине разработчика без
//     сервера (exec, validate, jobs, bench merge)
//   - Удалённый: управление runs и schedules через HTTP API
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует запросы, парсинг
// ответов (DataResponse, ListResponse, ErrorResponse) и обработку
// ошибок. Не импортирует internal/api.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - exec: локальное выполнение pipeline
//   - validate: проверка определения pipeline
//   - jobs: раскрытие матриц без выполнения
//   - run: list, start, show, cancel, instances
//   - pipeline: list, show
//   - schedule: list, enable, disable
//   - bench: merge
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli

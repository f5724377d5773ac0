// Package dispatcher управляет выполнением runs.
//
// Dispatcher отвечает за:
//   - Получение новых runs из очереди RabbitMQ
//   - Раскрытие pipeline в job instances (матрица × DAG needs)
//   - Публикацию job.ready для instances, чьи needs удовлетворены
//   - Отслеживание завершения instances
//   - Fail-fast: пропуск не розданных instances после падения
//   - Финализацию run (SUCCEEDED/FAILED)
//   - Создание runs по cron-расписаниям
//
// Dispatcher — это "мозг" системы, который координирует выполнение;
// сами шаги выполняют runner'ы.
package dispatcher
